package agents

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// Print writes every message to a writer and passes it through, so a
// wiring-less Print at the end of a pipeline doubles as a sink whose
// unconnected outputs can be inspected.
type Print struct {
	*engine.BaseAgent
}

// NewPrint creates a print agent writing to w (os.Stdout when nil).
func NewPrint(id string, w io.Writer) *Print {
	if w == nil {
		w = os.Stdout
	}
	return &Print{
		BaseAgent: engine.NewBaseAgent("print",
			engine.WithUUID(id),
			engine.WithInput(nil),
			engine.WithRun(func(v any) (any, error) {
				fmt.Fprintf(w, "%v\n", v)
				return v, nil
			}),
		),
	}
}

// Debug logs every message with its provenance and passes it through.
type Debug struct {
	*engine.BaseAgent
}

// NewDebug creates a debug agent.
func NewDebug(id string) *Debug {
	a := &Debug{}
	a.BaseAgent = engine.NewBaseAgent("debug",
		engine.WithUUID(id),
		engine.WithInput(nil),
		engine.WithProcess(func(v any, parents engine.Parents) (any, error) {
			log.Printf("debug %s: %v parents=%s", id, v, parents.Key())
			return v, nil
		}),
	)
	return a
}

func init() {
	agentpipe.Register("print", func(def agentpipe.AgentDef) (engine.Agent, error) {
		return NewPrint(def.Name, nil), nil
	})
	agentpipe.Register("debug", func(def agentpipe.AgentDef) (engine.Agent, error) {
		return NewDebug(def.Name), nil
	})
}
