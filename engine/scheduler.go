package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/git5001/agentpipe/checkpoint"
	"github.com/git5001/agentpipe/internal/metrics"
	"github.com/git5001/agentpipe/internal/observability"
)

// Scheduler drives a fixed, ordered list of agents round-robin until
// quiescence. It is single-threaded cooperative: one Step at a time, no
// parallelism across agents, the only suspension point between steps.
type Scheduler struct {
	agents []Agent
	byUUID map[string]Agent

	agentIdx       int
	stepCounter    int
	allDoneCounter int

	saveStore checkpoint.Store
	errStore  checkpoint.Store
	saveDir   string
	saveStep  int

	continueOnError bool
	errs            []*SchedulerError
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*Scheduler)

// WithSaveDir enables periodic checkpoints below dir using the atomic
// filesystem store, and the scheduler.log run log next to them.
func WithSaveDir(dir string) SchedulerOption {
	return func(s *Scheduler) {
		s.saveDir = dir
		s.saveStore = checkpoint.NewFSStore(dir)
	}
}

// WithStore enables periodic checkpoints on an arbitrary snapshot store.
func WithStore(store checkpoint.Store) SchedulerOption {
	return func(s *Scheduler) { s.saveStore = store }
}

// WithErrorDir snapshots the full scheduler state below dir when an agent
// step fails.
func WithErrorDir(dir string) SchedulerOption {
	return func(s *Scheduler) { s.errStore = checkpoint.NewFSStore(dir) }
}

// WithErrorStore is WithErrorDir for an arbitrary store.
func WithErrorStore(store checkpoint.Store) SchedulerOption {
	return func(s *Scheduler) { s.errStore = store }
}

// WithSaveStep checkpoints every n single-steps instead of every step.
func WithSaveStep(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.saveStep = n
		}
	}
}

// WithContinueOnError records step failures on the error list and keeps
// driving instead of returning the first failure from StepAll.
func WithContinueOnError() SchedulerOption {
	return func(s *Scheduler) { s.continueOnError = true }
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		byUUID:   make(map[string]Agent),
		saveStep: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAgent appends an agent. Registration order is part of scheduler state
// and determines round-robin order.
func (s *Scheduler) AddAgent(a Agent) error {
	if _, exists := s.byUUID[a.UUID()]; exists {
		return fmt.Errorf("agent %s already registered", a.UUID())
	}
	s.agents = append(s.agents, a)
	s.byUUID[a.UUID()] = a
	return nil
}

// Agents returns the registered agents in registration order.
func (s *Scheduler) Agents() []Agent {
	return append([]Agent(nil), s.agents...)
}

// Agent looks up a registered agent by uuid.
func (s *Scheduler) Agent(uuid string) (Agent, error) {
	a, ok := s.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, uuid)
	}
	return a, nil
}

// StepCounter returns the total number of single-step calls performed.
func (s *Scheduler) StepCounter() int { return s.stepCounter }

// Errors returns the step failures collected so far.
func (s *Scheduler) Errors() []*SchedulerError {
	return append([]*SchedulerError(nil), s.errs...)
}

// Step runs one scheduler tick: the agent under the cursor gets one Step,
// the cursor advances modulo the agent count, and the consecutive-idle
// counter is updated. The cursor advances even when the agent fails, so a
// later StepAll continues with the next agent instead of live-locking.
func (s *Scheduler) Step(ctx context.Context) (Activity, error) {
	if len(s.agents) == 0 {
		return Idle, nil
	}

	idx := s.agentIdx
	agent := s.agents[idx]
	s.agentIdx = (s.agentIdx + 1) % len(s.agents)
	s.stepCounter++
	step := s.stepCounter

	act := Idle
	var stepErr error
	if agent.Active() {
		_, span := observability.StartSpan(ctx, "scheduler.step", map[string]any{
			"agent.uuid": agent.UUID(),
			"agent.kind": agent.Kind(),
			"step":       step,
		})
		act, stepErr = agent.Step()
		span.RecordError(stepErr)
		span.End()
	}

	if stepErr != nil {
		serr := &SchedulerError{AgentUUID: agent.UUID(), Step: step, Cause: stepErr}
		if rec, ok := agent.(interface{ LastInput() (Delivery, bool) }); ok {
			if d, found := rec.LastInput(); found {
				serr.Offending = &d
			}
		}
		s.errs = append(s.errs, serr)
		metrics.Errors.Inc()
		metrics.Steps.WithLabelValues("error").Inc()
		log.Printf("scheduler: agent %s (%s) failed at step %d: %v", agent.Kind(), agent.UUID(), step, stepErr)

		if s.errStore != nil {
			if err := s.snapshotError(ctx, serr); err != nil {
				log.Printf("scheduler: error snapshot failed: %v", err)
			}
		}

		// The offending input was consumed, which is work done.
		s.allDoneCounter = 0
		s.maybeCheckpoint(ctx)
		if s.continueOnError {
			return Productive, nil
		}
		return Productive, serr
	}

	if act == Productive {
		s.allDoneCounter = 0
		s.logRun(agent, step, idx)
		metrics.Steps.WithLabelValues("productive").Inc()
	} else {
		s.allDoneCounter++
		metrics.Steps.WithLabelValues("idle").Inc()
	}
	s.updateQueueGauges(agent)

	s.maybeCheckpoint(ctx)
	return act, nil
}

// Quiesced reports whether the last full round produced no work.
func (s *Scheduler) Quiesced() bool {
	return len(s.agents) > 0 && s.allDoneCounter >= len(s.agents)
}

func (s *Scheduler) pendingInput() bool {
	for _, a := range s.agents {
		for _, name := range a.PortNames() {
			p := a.Ports()[name]
			if p != nil && p.Direction() == In && p.Len() > 0 {
				return true
			}
		}
	}
	return false
}

// StepAll drives the pipeline until a full round-robin pass produced no
// work. A quiesced pipeline with no newly fed input returns immediately.
func (s *Scheduler) StepAll(ctx context.Context) error {
	if len(s.agents) == 0 {
		return nil
	}
	if s.Quiesced() {
		if !s.pendingInput() {
			return nil
		}
		s.allDoneCounter = 0
	}
	if s.stepCounter == 0 {
		s.clearLog()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Step(ctx); err != nil {
			return err
		}
		if s.Quiesced() {
			return nil
		}
	}
}

func (s *Scheduler) updateQueueGauges(a Agent) {
	ports := a.Ports()
	for _, name := range a.PortNames() {
		p := ports[name]
		if p != nil && p.Direction() == In {
			metrics.QueueDepth.WithLabelValues(a.Kind(), name).Set(float64(p.Len()))
		}
	}
}

// FinalOutputs returns, per agent uuid, the payloads buffered on output
// ports that have no connections. These are the pipeline's sink results.
func (s *Scheduler) FinalOutputs() map[string][]any {
	out := make(map[string][]any)
	for _, a := range s.agents {
		if vals := a.Output().FinalOutputs(); len(vals) > 0 {
			out[a.UUID()] = vals
		}
	}
	return out
}

// PopAllOutputs drains every agent's unconnected-output buffer, in
// registration order.
func (s *Scheduler) PopAllOutputs() []any {
	var all []any
	for _, a := range s.agents {
		for {
			v, ok := a.Output().PopOutput()
			if !ok {
				break
			}
			all = append(all, v)
		}
	}
	return all
}

// ClearFinalOutputs drops every agent's unconnected-output buffer.
func (s *Scheduler) ClearFinalOutputs() {
	for _, a := range s.agents {
		a.Output().ClearFinalOutputs()
	}
}

// EntryAgents returns the agents whose input ports are not the target of
// any registered connection. These are the pipeline's seed points.
func (s *Scheduler) EntryAgents() []Agent {
	targeted := make(map[*Port]bool)
	for _, a := range s.agents {
		for _, c := range a.Output().Connections() {
			targeted[c.Target()] = true
		}
	}
	var entries []Agent
	for _, a := range s.agents {
		entry := true
		ports := a.Ports()
		for _, name := range a.PortNames() {
			p := ports[name]
			if p != nil && p.Direction() == In && targeted[p] {
				entry = false
				break
			}
		}
		if entry {
			entries = append(entries, a)
		}
	}
	return entries
}

// CollectPipeline returns every agent reachable from roots by following
// output connections, roots included, in discovery order. Cycle-safe.
func CollectPipeline(roots ...Agent) []Agent {
	seen := make(map[string]bool)
	var out []Agent
	var visit func(a Agent)
	visit = func(a Agent) {
		if a == nil || seen[a.UUID()] {
			return
		}
		seen[a.UUID()] = true
		out = append(out, a)
		for _, c := range a.Output().Connections() {
			visit(c.Dest())
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

// MissingAgents returns agents reachable from the registered ones that were
// never registered themselves.
func (s *Scheduler) MissingAgents() []Agent {
	var missing []Agent
	for _, a := range CollectPipeline(s.agents...) {
		if _, ok := s.byUUID[a.UUID()]; !ok {
			missing = append(missing, a)
		}
	}
	return missing
}

// AddPipeline registers every agent reachable from roots that is not yet
// registered, in discovery order.
func (s *Scheduler) AddPipeline(roots ...Agent) error {
	for _, a := range CollectPipeline(roots...) {
		if _, ok := s.byUUID[a.UUID()]; ok {
			continue
		}
		if err := s.AddAgent(a); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePipeline fails when wiring reaches agents the scheduler does not
// know about; those would silently accumulate messages and never run.
func (s *Scheduler) ValidatePipeline() error {
	if missing := s.MissingAgents(); len(missing) > 0 {
		return &WiringError{Reason: fmt.Sprintf("%d reachable agents are not registered (first: %s)", len(missing), missing[0].UUID())}
	}
	return nil
}

func (s *Scheduler) logPath() string {
	return filepath.Join(s.saveDir, "scheduler.log")
}

func (s *Scheduler) clearLog() {
	if s.saveDir == "" {
		return
	}
	if err := os.MkdirAll(s.saveDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(s.logPath(), nil, 0o644)
}

func (s *Scheduler) logRun(a Agent, step, index int) {
	if s.saveDir == "" {
		return
	}
	f, err := os.OpenFile(s.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] step=%d agent=%s (%s) index=%d\n",
		time.Now().UTC().Format(time.RFC3339), step, a.Kind(), a.UUID(), index)
}
