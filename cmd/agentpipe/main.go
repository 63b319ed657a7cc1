// Command agentpipe runs, inspects, and resumes YAML-defined pipelines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/git5001/agentpipe"
	_ "github.com/git5001/agentpipe/agents"
	"github.com/git5001/agentpipe/debug"
	"github.com/git5001/agentpipe/internal/observability"
)

var (
	flagResume      string
	flagRate        float64
	flagMetricsAddr string
	flagDebug       bool
	flagTrace       string
)

func main() {
	root := &cobra.Command{
		Use:   "agentpipe",
		Short: "Message-passing agent pipeline runner",
	}

	runCmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run a pipeline to quiescence",
		Args:  cobra.ExactArgs(1),
		RunE:  runPipeline,
	}
	runCmd.Flags().StringVar(&flagResume, "resume", "", "checkpoint prefix to resume from (e.g. step_12)")
	runCmd.Flags().Float64Var(&flagRate, "rate", 0, "max scheduler steps per second (0 = unpaced)")
	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&flagDebug, "debug", false, "open the interactive debugger instead of running")
	runCmd.Flags().StringVar(&flagTrace, "trace", "", "tracing exporter: stdout or otlp")

	printCmd := &cobra.Command{
		Use:   "print <config.yaml>",
		Short: "Print the pipeline wiring as an ASCII tree",
		Args:  cobra.ExactArgs(1),
		RunE:  printPipeline,
	}

	graphCmd := &cobra.Command{
		Use:   "graph <config.yaml>",
		Short: "Emit the wiring as JSON for external renderers",
		Args:  cobra.ExactArgs(1),
		RunE:  graphPipeline,
	}

	root.AddCommand(runCmd, printCmd, graphCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildFromFile(path string) (*agentpipe.Pipeline, error) {
	cfg, err := agentpipe.NewConfigLoader(nil).Load(path)
	if err != nil {
		return nil, err
	}
	return agentpipe.Build(cfg)
}

func runPipeline(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	if flagTrace != "" {
		if err := observability.Init(observability.Config{ExporterType: flagTrace}); err != nil {
			return err
		}
		defer observability.Shutdown(ctx)
	}

	pipe, err := buildFromFile(args[0])
	if err != nil {
		return err
	}
	if err := pipe.Scheduler.ValidatePipeline(); err != nil {
		return err
	}

	if flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: flagMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if flagResume != "" {
		if err := pipe.Scheduler.Load(ctx, flagResume); err != nil {
			return err
		}
		log.Printf("resumed from %s at step %d", flagResume, pipe.Scheduler.StepCounter())
	}

	if flagDebug {
		return debug.NewConsole(pipe.Scheduler, os.Stdout, flagRate).Run(ctx)
	}

	if flagRate > 0 {
		limiter := rate.NewLimiter(rate.Limit(flagRate), 1)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if _, err := pipe.Scheduler.Step(ctx); err != nil {
				return err
			}
			if pipe.Scheduler.Quiesced() {
				break
			}
		}
	} else if err := pipe.Scheduler.StepAll(ctx); err != nil {
		return err
	}

	log.Printf("quiesced after %d steps", pipe.Scheduler.StepCounter())
	for uuid, outputs := range pipe.Scheduler.FinalOutputs() {
		for _, v := range outputs {
			fmt.Printf("%s: %v\n", uuid, v)
		}
	}
	for _, serr := range pipe.Scheduler.Errors() {
		log.Printf("error: %v", serr)
	}
	return nil
}

func printPipeline(_ *cobra.Command, args []string) error {
	pipe, err := buildFromFile(args[0])
	if err != nil {
		return err
	}
	pipe.Scheduler.Fprint(os.Stdout)
	return nil
}

func graphPipeline(_ *cobra.Command, args []string) error {
	pipe, err := buildFromFile(args[0])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(pipe.Scheduler.Graph(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
