package agents

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// Tick is the message a CronSource emits.
type Tick struct {
	Seq  int    `json:"seq"`
	Time string `json:"time"`
}

// cronState tracks the last fire so resumed pipelines do not re-fire.
type cronState struct {
	LastFire time.Time `json:"last_fire"`
	Fired    int       `json:"fired"`
}

// CronSource emits a Tick whenever its cron schedule has come due since the
// last fire, checked once per scheduler step. With maxFires > 0 it goes
// permanently idle after that many ticks; with maxFires == 0 it idles
// between due times, so it is meant for pipelines driven by an outer loop.
type CronSource struct {
	*engine.BaseAgent
	schedule cron.Schedule
	maxFires int
	now      func() time.Time
	state    *cronState
}

// NewCronSource parses a standard 5-field cron expression.
func NewCronSource(id, spec string, maxFires int) (*CronSource, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cron %s: %w", id, err)
	}
	state := &cronState{}
	return &CronSource{
		BaseAgent: engine.NewBaseAgent("cron",
			engine.WithUUID(id),
			engine.WithOutput(engine.SchemaOf[Tick]("tick")),
			engine.WithState(state, 1),
		),
		schedule: schedule,
		maxFires: maxFires,
		now:      time.Now,
		state:    state,
	}, nil
}

// SetClock overrides the time source, for tests.
func (c *CronSource) SetClock(now func() time.Time) { c.now = now }

func (c *CronSource) Step() (engine.Activity, error) {
	if c.maxFires > 0 && c.state.Fired >= c.maxFires {
		return engine.Idle, nil
	}
	now := c.now()
	if c.state.LastFire.IsZero() {
		c.state.LastFire = now
		return engine.Idle, nil
	}
	if c.schedule.Next(c.state.LastFire).After(now) {
		return engine.Idle, nil
	}
	c.state.Fired++
	c.state.LastFire = now
	tick := Tick{Seq: c.state.Fired, Time: now.UTC().Format(time.RFC3339)}
	if err := c.Output().Send(tick, engine.Parents{}); err != nil {
		return engine.Productive, err
	}
	return engine.Productive, nil
}

func init() {
	agentpipe.Register("cron", func(def agentpipe.AgentDef) (engine.Agent, error) {
		spec := def.GetString("schedule", "")
		if spec == "" {
			return nil, fmt.Errorf("cron %s: schedule is required", def.Name)
		}
		return NewCronSource(def.Name, spec, def.GetInt("max_fires", 0))
	})
}
