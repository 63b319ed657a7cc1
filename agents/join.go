package agents

import (
	"fmt"

	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// joinEntry is one buffered message on one join port. Seq orders arrivals
// for the oldest-first tie-break.
type joinEntry struct {
	Parents engine.Parents `json:"parents"`
	Payload any            `json:"payload"`
	Seq     int            `json:"seq"`
}

// joinState persists per-port buffers across steps and checkpoints.
type joinState struct {
	Buffers map[string][]joinEntry `json:"buffers"`
	NextSeq int                    `json:"next_seq"`
	Cursor  int                    `json:"cursor"`
}

// Join buffers messages on several named input ports and emits one composite
// message per group: exactly one message from every port whose provenance
// sequences share a non-empty common ancestor prefix. The composite maps
// port name to payload and carries the common prefix as its parents. When
// several groups are ready, the oldest arrivals win.
type Join struct {
	*engine.BaseAgent
	ports []string
	state *joinState
}

// NewJoin creates a join over the named input ports, in the given order.
func NewJoin(id string, ports []string) (*Join, error) {
	if len(ports) < 2 {
		return nil, &engine.WiringError{Reason: "join needs at least two input ports"}
	}
	opts := []engine.AgentOption{engine.WithUUID(id)}
	for _, name := range ports {
		opts = append(opts, engine.WithInputPort(name, nil))
	}
	state := &joinState{Buffers: make(map[string][]joinEntry)}
	opts = append(opts, engine.WithState(state, 1))
	return &Join{
		BaseAgent: engine.NewBaseAgent("join", opts...),
		ports:     append([]string(nil), ports...),
		state:     state,
	}, nil
}

// Step moves at most one message from an input queue into its buffer
// (round-robin across ports), then emits one composite if a group is
// complete. Emitting counts as work even when nothing was consumed, which
// lets restored pipelines flush groups completed before the snapshot.
func (j *Join) Step() (engine.Activity, error) {
	consumed := j.consumeOne()
	emitted, err := j.emitReady()
	if err != nil {
		return engine.Productive, err
	}
	if consumed || emitted {
		return engine.Productive, nil
	}
	return engine.Idle, nil
}

func (j *Join) consumeOne() bool {
	n := len(j.ports)
	for i := 0; i < n; i++ {
		probe := (j.state.Cursor + 1 + i) % n
		name := j.ports[probe]
		port := j.Input(name)
		d, ok := port.Pop()
		if !ok {
			continue
		}
		j.state.Cursor = probe
		j.NoteInput(d)
		j.state.Buffers[name] = append(j.state.Buffers[name], joinEntry{
			Parents: d.Parents,
			Payload: d.Payload,
			Seq:     j.state.NextSeq,
		})
		j.state.NextSeq++
		return true
	}
	return false
}

// emitReady searches for one complete group: a selection of one buffered
// entry per port sharing a non-empty common prefix. Candidates on the first
// port are tried oldest first, and each further port contributes its oldest
// compatible entry.
func (j *Join) emitReady() (bool, error) {
	first := j.ports[0]
	for baseIdx, base := range j.state.Buffers[first] {
		common := base.Parents
		picked := map[string]int{first: baseIdx}
		payloads := map[string]any{first: base.Payload}

		complete := true
		for _, name := range j.ports[1:] {
			found := -1
			for idx, entry := range j.state.Buffers[name] {
				lcp := engine.LongestCommonPrefix(common, entry.Parents)
				if len(lcp) > 0 {
					common = lcp
					found = idx
					break
				}
			}
			if found < 0 {
				complete = false
				break
			}
			picked[name] = found
			payloads[name] = j.state.Buffers[name][found].Payload
		}
		if !complete {
			continue
		}

		for name, idx := range picked {
			buf := j.state.Buffers[name]
			j.state.Buffers[name] = append(buf[:idx:idx], buf[idx+1:]...)
		}
		composite := make(map[string]any, len(payloads))
		for name, payload := range payloads {
			composite[name] = payload
		}
		if err := j.Output().Send(composite, common); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// Buffered returns how many messages are waiting on the named port.
func (j *Join) Buffered(port string) int {
	return len(j.state.Buffers[port])
}

func init() {
	agentpipe.Register("join", func(def agentpipe.AgentDef) (engine.Agent, error) {
		var ports []string
		if err := def.UnmarshalKey("ports", &ports); err != nil {
			return nil, err
		}
		if len(ports) == 0 {
			return nil, fmt.Errorf("join %s: ports is required", def.Name)
		}
		return NewJoin(def.Name, ports)
	})
}
