package agents

import (
	"fmt"

	"github.com/git5001/agentpipe"
	"github.com/git5001/agentpipe/engine"
)

// batchState buffers messages between flushes. Parents are kept so the
// emitted batch carries the common provenance of its members.
type batchState struct {
	Items   []any            `json:"items"`
	Parents []engine.Parents `json:"parents"`
}

// Batch collects size messages and emits them as one slice-valued message.
// The emitted parents are the longest common prefix of the batched inputs.
type Batch struct {
	*engine.BaseAgent
	size  int
	state *batchState
}

// NewBatch creates a batch agent flushing every size messages.
func NewBatch(id string, size int) *Batch {
	state := &batchState{}
	b := &Batch{size: size, state: state}
	b.BaseAgent = engine.NewBaseAgent("batch",
		engine.WithUUID(id),
		engine.WithInput(nil),
		engine.WithState(state, 1),
		engine.WithProcess(b.collect),
	)
	return b
}

func (b *Batch) collect(v any, parents engine.Parents) (any, error) {
	b.state.Items = append(b.state.Items, v)
	b.state.Parents = append(b.state.Parents, parents)
	if len(b.state.Items) < b.size {
		return nil, nil
	}
	items := b.state.Items
	common := engine.LongestCommonPrefix(b.state.Parents...)
	b.state.Items = nil
	b.state.Parents = nil
	// One slice-valued message, not a split: downstream sees a single send.
	return nil, b.Output().Send(items, common)
}

// Flush emits a partial batch, if any. Call after quiescence to drain a
// pipeline whose message count is not a multiple of the batch size.
func (b *Batch) Flush() error {
	if len(b.state.Items) == 0 {
		return nil
	}
	items := b.state.Items
	common := engine.LongestCommonPrefix(b.state.Parents...)
	b.state.Items = nil
	b.state.Parents = nil
	return b.Output().Send(items, common)
}

func init() {
	agentpipe.Register("batch", func(def agentpipe.AgentDef) (engine.Agent, error) {
		size := def.GetInt("size", 0)
		if size < 1 {
			return nil, fmt.Errorf("batch %s: size must be >= 1", def.Name)
		}
		return NewBatch(def.Name, size), nil
	})
}
