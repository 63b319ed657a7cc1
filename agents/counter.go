package agents

import (
	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// counterState is the persisted counter position.
type counterState struct {
	Next int `json:"next"`
}

// Counter is a bounded source: it emits the integers start..limit, one per
// step, then reports idle. It takes no input.
type Counter struct {
	*engine.BaseAgent
	state *counterState
	limit int
}

// NewCounter creates a counter emitting start through limit inclusive.
func NewCounter(id string, start, limit int) *Counter {
	state := &counterState{Next: start}
	return &Counter{
		BaseAgent: engine.NewBaseAgent("counter",
			engine.WithUUID(id),
			engine.WithOutput(engine.SchemaOf[int]("int")),
			engine.WithState(state, 1),
		),
		state: state,
		limit: limit,
	}
}

// Step emits the next value with empty parents, or reports idle once the
// range is exhausted.
func (c *Counter) Step() (engine.Activity, error) {
	if c.state.Next > c.limit {
		return engine.Idle, nil
	}
	v := c.state.Next
	c.state.Next++
	if err := c.Output().Send(v, engine.Parents{}); err != nil {
		return engine.Productive, err
	}
	return engine.Productive, nil
}

func init() {
	agentpipe.Register("counter", func(def agentpipe.AgentDef) (engine.Agent, error) {
		return NewCounter(def.Name, def.GetInt("start", 1), def.GetInt("limit", 10)), nil
	})
}
