package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/git5001/agentpipe/checkpoint"
	"github.com/git5001/agentpipe/internal/metrics"
	"github.com/git5001/agentpipe/internal/observability"
)

// schedulerState is the persisted scheduler.json. Order pins both agent
// identity and round-robin order; a resume with a different agent list is
// refused.
type schedulerState struct {
	AgentIdx       int      `json:"agent_idx"`
	StepCounter    int      `json:"step_counter"`
	AllDoneCounter int      `json:"all_done_counter"`
	Order          []string `json:"order"`
}

// errorSnapshot is the persisted error.json written next to an error
// checkpoint.
type errorSnapshot struct {
	AgentUUID string            `json:"agent_uuid"`
	Step      int               `json:"step_counter"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Offending *deliverySnapshot `json:"offending,omitempty"`
}

func stepPrefix(n int) string {
	return fmt.Sprintf("step_%d", n)
}

func (s *Scheduler) maybeCheckpoint(ctx context.Context) {
	if s.saveStore == nil || s.stepCounter%s.saveStep != 0 {
		return
	}
	// Save failures are non-fatal: the in-memory state is still valid and
	// this checkpoint is not retried.
	if err := s.saveTo(ctx, s.saveStore, stepPrefix(s.stepCounter)); err != nil {
		metrics.Checkpoints.WithLabelValues("failed").Inc()
		log.Printf("scheduler: checkpoint at step %d failed: %v", s.stepCounter, err)
		return
	}
	metrics.Checkpoints.WithLabelValues("ok").Inc()
}

// SaveCheckpoint writes a full snapshot under prefix (e.g. "step_12") on the
// configured save store.
func (s *Scheduler) SaveCheckpoint(ctx context.Context, prefix string) error {
	if s.saveStore == nil {
		return &CheckpointError{Op: "save", Key: prefix, Cause: fmt.Errorf("no save store configured")}
	}
	return s.saveTo(ctx, s.saveStore, prefix)
}

// saveTo snapshots every agent concurrently, then writes scheduler.json.
// The scheduler state file goes last: a checkpoint directory is valid iff it
// is present, so a crash mid-save never yields a loadable half-checkpoint.
func (s *Scheduler) saveTo(ctx context.Context, store checkpoint.Store, prefix string) error {
	ctx, span := observability.StartSpan(ctx, "scheduler.checkpoint", map[string]any{"prefix": prefix})
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.agents {
		g.Go(func() error {
			return saveAgent(gctx, store, prefix, a)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return &CheckpointError{Op: "save", Key: prefix, Cause: err}
	}

	state := schedulerState{
		AgentIdx:       s.agentIdx,
		StepCounter:    s.stepCounter,
		AllDoneCounter: s.allDoneCounter,
		Order:          s.order(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &CheckpointError{Op: "save", Key: prefix, Cause: err}
	}
	if err := store.Put(ctx, path.Join(prefix, "scheduler.json"), data); err != nil {
		span.RecordError(err)
		return &CheckpointError{Op: "save", Key: prefix, Cause: err}
	}
	return nil
}

func saveAgent(ctx context.Context, store checkpoint.Store, prefix string, a Agent) error {
	snap, err := a.Snapshot()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	base := path.Join(prefix, "agents", a.UUID())
	if err := store.Put(ctx, path.Join(base, "state.json"), data); err != nil {
		return err
	}
	ports := a.Ports()
	for _, name := range a.PortNames() {
		p := ports[name]
		if p == nil {
			continue
		}
		blob, err := p.Snapshot()
		if err != nil {
			return err
		}
		if err := store.Put(ctx, path.Join(base, "ports", name+".json"), blob); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) order() []string {
	order := make([]string, len(s.agents))
	for i, a := range s.agents {
		order[i] = a.UUID()
	}
	return order
}

// HasCheckpoint reports whether prefix holds a valid checkpoint, i.e. its
// scheduler state file exists.
func (s *Scheduler) HasCheckpoint(ctx context.Context, prefix string) (bool, error) {
	if s.saveStore == nil {
		return false, nil
	}
	return s.saveStore.Exists(ctx, path.Join(prefix, "scheduler.json"))
}

// LoadState restores the scheduler counters and cursor from prefix. The
// stored agent order must match the registered one exactly; any mismatch is
// fatal. Load failures are always fatal.
func (s *Scheduler) LoadState(ctx context.Context, prefix string) error {
	if s.saveStore == nil {
		return &CheckpointError{Op: "load", Key: prefix, Cause: fmt.Errorf("no save store configured")}
	}
	data, err := s.saveStore.Get(ctx, path.Join(prefix, "scheduler.json"))
	if err != nil {
		return &CheckpointError{Op: "load", Key: prefix, Cause: err}
	}
	var state schedulerState
	if err := json.Unmarshal(data, &state); err != nil {
		return &CheckpointError{Op: "load", Key: prefix, Cause: err}
	}

	current := s.order()
	if len(state.Order) != len(current) {
		return &CheckpointError{Op: "load", Key: prefix,
			Cause: fmt.Errorf("snapshot has %d agents, scheduler has %d", len(state.Order), len(current))}
	}
	for i, id := range state.Order {
		if current[i] != id {
			return &CheckpointError{Op: "load", Key: prefix,
				Cause: fmt.Errorf("agent order mismatch at %d: snapshot %s, scheduler %s", i, id, current[i])}
		}
	}

	s.agentIdx = state.AgentIdx
	s.stepCounter = state.StepCounter
	s.allDoneCounter = state.AllDoneCounter
	return nil
}

// LoadAgents restores every registered agent's private state and port
// contents from prefix. Agents are matched by uuid.
func (s *Scheduler) LoadAgents(ctx context.Context, prefix string) error {
	if s.saveStore == nil {
		return &CheckpointError{Op: "load", Key: prefix, Cause: fmt.Errorf("no save store configured")}
	}
	for _, a := range s.agents {
		if err := loadAgent(ctx, s.saveStore, prefix, a); err != nil {
			return &CheckpointError{Op: "load", Key: prefix, Cause: err}
		}
	}
	return nil
}

func loadAgent(ctx context.Context, store checkpoint.Store, prefix string, a Agent) error {
	base := path.Join(prefix, "agents", a.UUID())
	data, err := store.Get(ctx, path.Join(base, "state.json"))
	if err != nil {
		return err
	}
	var snap AgentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("agent %s: %w", a.UUID(), err)
	}
	if err := a.Restore(&snap); err != nil {
		return err
	}
	ports := a.Ports()
	for _, name := range a.PortNames() {
		p := ports[name]
		if p == nil {
			continue
		}
		blob, err := store.Get(ctx, path.Join(base, "ports", name+".json"))
		if err != nil {
			return err
		}
		if err := p.Restore(blob); err != nil {
			return fmt.Errorf("agent %s port %s: %w", a.UUID(), name, err)
		}
	}
	return nil
}

// Load restores agents and scheduler state from prefix, after which StepAll
// continues from the stored cursor.
func (s *Scheduler) Load(ctx context.Context, prefix string) error {
	if err := s.LoadAgents(ctx, prefix); err != nil {
		return err
	}
	return s.LoadState(ctx, prefix)
}

// SaveAgentState persists one agent's state and ports below dir, outside any
// scheduler checkpoint. Useful for tests and for snapshotting a single agent.
func SaveAgentState(ctx context.Context, a Agent, dir string) error {
	if err := saveAgent(ctx, checkpoint.NewFSStore(dir), ".", a); err != nil {
		return &CheckpointError{Op: "save", Key: dir, Cause: err}
	}
	return nil
}

// LoadAgentState restores what SaveAgentState wrote. The agent is matched by
// uuid.
func LoadAgentState(ctx context.Context, a Agent, dir string) error {
	if err := loadAgent(ctx, checkpoint.NewFSStore(dir), ".", a); err != nil {
		return &CheckpointError{Op: "load", Key: dir, Cause: err}
	}
	return nil
}

func (s *Scheduler) snapshotError(ctx context.Context, serr *SchedulerError) error {
	prefix := stepPrefix(serr.Step)
	if err := s.saveTo(ctx, s.errStore, prefix); err != nil {
		return err
	}
	snap := errorSnapshot{
		AgentUUID: serr.AgentUUID,
		Step:      serr.Step,
		Kind:      fmt.Sprintf("%T", serr.Cause),
		Message:   serr.Cause.Error(),
	}
	if serr.Offending != nil {
		raw, err := json.Marshal(serr.Offending.Payload)
		if err == nil {
			snap.Offending = &deliverySnapshot{Parents: serr.Offending.Parents, Message: raw}
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return s.errStore.Put(ctx, path.Join(prefix, "error.json"), data)
}
