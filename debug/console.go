// Package debug provides an interactive console for stepping a scheduler:
// single steps, paced continuous runs, queue inspection, and manual
// snapshots.
package debug

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/time/rate"

	"github.com/git5001/agentpipe/engine"
)

// Console is a liner-backed REPL around a scheduler.
type Console struct {
	sched *engine.Scheduler
	out   io.Writer
	rate  rate.Limit
}

// NewConsole creates a console. stepsPerSecond paces the run command;
// zero or negative means unpaced.
func NewConsole(sched *engine.Scheduler, out io.Writer, stepsPerSecond float64) *Console {
	limit := rate.Inf
	if stepsPerSecond > 0 {
		limit = rate.Limit(stepsPerSecond)
	}
	return &Console{sched: sched, out: out, rate: limit}
}

// Run reads commands until quit or EOF.
func (c *Console) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Fprintln(c.out, "agentpipe debugger — step [n], run, queues, print, save <prefix>, quit")
	for {
		input, err := line.Prompt("(pipe) ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		switch fields[0] {
		case "quit", "q", "exit":
			return nil
		case "step", "s":
			n := 1
			if len(fields) > 1 {
				if parsed, err := strconv.Atoi(fields[1]); err == nil && parsed > 0 {
					n = parsed
				}
			}
			c.step(ctx, n)
		case "run", "r":
			c.runAll(ctx)
		case "queues":
			c.queues()
		case "print", "p":
			c.sched.Fprint(c.out)
		case "save":
			if len(fields) < 2 {
				fmt.Fprintln(c.out, "usage: save <prefix>")
				continue
			}
			if err := c.sched.SaveCheckpoint(ctx, fields[1]); err != nil {
				fmt.Fprintf(c.out, "save failed: %v\n", err)
			} else {
				fmt.Fprintf(c.out, "saved %s\n", fields[1])
			}
		default:
			fmt.Fprintf(c.out, "unknown command %q\n", fields[0])
		}
	}
}

func (c *Console) step(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		act, err := c.sched.Step(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "step %d: %v\n", c.sched.StepCounter(), err)
			return
		}
		fmt.Fprintf(c.out, "step %d: %s\n", c.sched.StepCounter(), act)
	}
}

// runAll drives to quiescence, paced by the configured step rate so a human
// can watch the pipeline move.
func (c *Console) runAll(ctx context.Context) {
	limiter := rate.NewLimiter(c.rate, 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			fmt.Fprintf(c.out, "run aborted: %v\n", err)
			return
		}
		if _, err := c.sched.Step(ctx); err != nil {
			fmt.Fprintf(c.out, "run stopped: %v\n", err)
			return
		}
		if c.sched.Quiesced() {
			fmt.Fprintf(c.out, "quiesced after step %d\n", c.sched.StepCounter())
			return
		}
	}
}

func (c *Console) queues() {
	for i, a := range c.sched.Agents() {
		ports := a.Ports()
		for _, name := range a.PortNames() {
			p := ports[name]
			if p == nil || p.Direction() != engine.In {
				continue
			}
			fmt.Fprintf(c.out, "%s#%d %s: %d queued\n", a.Kind(), i, name, p.Len())
		}
		if n := a.Output().UnconnectedLen(); n > 0 {
			fmt.Fprintf(c.out, "%s#%d out: %d unconnected\n", a.Kind(), i, n)
		}
	}
}
