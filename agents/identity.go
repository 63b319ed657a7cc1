package agents

import (
	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// Identity forwards every input message unchanged.
type Identity struct {
	*engine.BaseAgent
}

// NewIdentity creates an identity agent with the given uuid.
func NewIdentity(id string) *Identity {
	return &Identity{
		BaseAgent: engine.NewBaseAgent("identity",
			engine.WithUUID(id),
			engine.WithInput(nil),
			engine.WithRun(func(v any) (any, error) { return v, nil }),
		),
	}
}

func init() {
	agentpipe.Register("identity", func(def agentpipe.AgentDef) (engine.Agent, error) {
		return NewIdentity(def.Name), nil
	})
}
