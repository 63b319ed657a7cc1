package engine

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Activity is the result of one step: either the agent consumed input and
// possibly produced output, or it had nothing to do.
type Activity int

const (
	Idle Activity = iota
	Productive
)

func (a Activity) String() string {
	if a == Productive {
		return "productive"
	}
	return "idle"
}

// Agent is a stateful node with typed input port(s) and one output port,
// stepped by the scheduler. Implementations embed BaseAgent and either supply
// run/process functions or provide their own Step.
type Agent interface {
	// UUID is the stable identity, unique per scheduler. Checkpoints match
	// agents by it.
	UUID() string

	// Kind names the agent type for rendering and registry lookup.
	Kind() string

	// Step consumes at most one input message and routes any produced
	// output. It returns Idle when there was nothing to do.
	Step() (Activity, error)

	// Output returns the single output port.
	Output() *Port

	// Input returns the named input port, or the default port for "".
	Input(name string) *Port

	// Ports returns every owned port keyed by its checkpoint name.
	Ports() map[string]*Port

	// PortNames returns the checkpoint port names in declaration order.
	PortNames() []string

	// Feed enqueues a seed message on the default input port without
	// scheduler involvement.
	Feed(v any) error

	// Active agents are stepped; inactive ones are skipped by the scheduler.
	Active() bool
	SetActive(active bool)

	// Snapshot and Restore carry the agent's private state across
	// checkpoints. Port contents are persisted separately.
	Snapshot() (*AgentSnapshot, error)
	Restore(snap *AgentSnapshot) error
}

// AgentSnapshot is the persisted form of an agent's private state
// (state.json in the checkpoint layout). The schema of State is owned by the
// agent and versioned explicitly.
type AgentSnapshot struct {
	UUID    string          `json:"uuid"`
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Active  bool            `json:"active"`
	Cursor  int             `json:"cursor,omitempty"`
	State   json.RawMessage `json:"state,omitempty"`
}

// RunFunc handles one message, parents ignored. It returns one output
// message, a []any of independent outputs, a Split for reassembly downstream,
// or nil for no output.
type RunFunc func(v any) (any, error)

// ProcessFunc handles one message with access to its provenance.
type ProcessFunc func(v any, parents Parents) (any, error)

// SplitOutput marks a result as one logical list to be emitted through a
// single split send, so downstream aggregators can reassemble it. Plain []any
// results are emitted as independent sends instead.
type SplitOutput struct {
	Items []any
}

// Split wraps items for a reassemblable split send.
func Split(items ...any) SplitOutput {
	return SplitOutput{Items: items}
}

// BaseAgent implements the bookkeeping half of Agent: ports, identity,
// active flag, state snapshots, and the default single-step contract.
type BaseAgent struct {
	uuid string
	kind string

	inputs     map[string]*Port
	inputOrder []string
	output     *Port

	runFn     RunFunc
	processFn ProcessFunc

	state        any
	stateVersion int

	active    bool
	lastInput *Delivery
}

// AgentOption configures a BaseAgent at construction.
type AgentOption func(*BaseAgent)

// WithUUID pins the agent identity. Defaults to a fresh UUID.
func WithUUID(id string) AgentOption {
	return func(a *BaseAgent) { a.uuid = id }
}

// WithInput declares the default input port with the given schema.
func WithInput(schema Schema) AgentOption {
	return WithInputPort(DefaultInput, schema)
}

// WithInputPort declares a named input port. Declaration order is preserved.
func WithInputPort(name string, schema Schema) AgentOption {
	return func(a *BaseAgent) {
		p := NewInputPort(name, schema)
		a.inputs[name] = p
		a.inputOrder = append(a.inputOrder, name)
	}
}

// WithOutput declares the output schema.
func WithOutput(schema Schema) AgentOption {
	return func(a *BaseAgent) { a.output = NewOutputPort(DefaultOutput, schema) }
}

// WithRun supplies the message handler.
func WithRun(fn RunFunc) AgentOption {
	return func(a *BaseAgent) { a.runFn = fn }
}

// WithProcess supplies a provenance-aware handler, taking precedence over
// WithRun.
func WithProcess(fn ProcessFunc) AgentOption {
	return func(a *BaseAgent) { a.processFn = fn }
}

// WithState registers the agent's serializable state. The pointer is
// marshaled into checkpoints and unmarshaled in place on restore.
func WithState(ptr any, version int) AgentOption {
	return func(a *BaseAgent) {
		a.state = ptr
		a.stateVersion = version
	}
}

// NewBaseAgent creates an agent skeleton. Without WithInput the agent has no
// input ports and its default Step is always idle; source agents override
// Step instead.
func NewBaseAgent(kind string, opts ...AgentOption) *BaseAgent {
	a := &BaseAgent{
		uuid:   uuid.NewString(),
		kind:   kind,
		inputs: make(map[string]*Port),
		active: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.output == nil {
		a.output = NewOutputPort(DefaultOutput, nil)
	}
	for _, p := range a.inputs {
		p.setOwner(a)
	}
	a.output.setOwner(a)
	return a
}

func (a *BaseAgent) UUID() string { return a.uuid }
func (a *BaseAgent) Kind() string { return a.kind }

func (a *BaseAgent) Output() *Port { return a.output }

func (a *BaseAgent) Input(name string) *Port {
	if name == "" {
		return a.defaultInput()
	}
	return a.inputs[name]
}

func (a *BaseAgent) defaultInput() *Port {
	if len(a.inputOrder) == 0 {
		return nil
	}
	return a.inputs[a.inputOrder[0]]
}

func (a *BaseAgent) Ports() map[string]*Port {
	ports := make(map[string]*Port, len(a.inputs)+1)
	for name, p := range a.inputs {
		ports[name] = p
	}
	ports[a.output.Name()] = a.output
	return ports
}

func (a *BaseAgent) PortNames() []string {
	names := append([]string(nil), a.inputOrder...)
	return append(names, a.output.Name())
}

func (a *BaseAgent) Active() bool          { return a.active }
func (a *BaseAgent) SetActive(active bool) { a.active = active }

// ConnectTo wires this agent's output to the target's default input port.
func (a *BaseAgent) ConnectTo(target Agent, opts ...ConnectOption) error {
	return a.ConnectToPort(target, "", opts...)
}

// ConnectToPort wires this agent's output to a named input port on target.
func (a *BaseAgent) ConnectToPort(target Agent, port string, opts ...ConnectOption) error {
	in := target.Input(port)
	if in == nil {
		return &WiringError{Reason: fmt.Sprintf("agent %s has no input port %q", target.UUID(), port)}
	}
	return a.output.Connect(in, opts...)
}

// Feed enqueues a seed message with empty parents on the default input port.
func (a *BaseAgent) Feed(v any) error {
	in := a.defaultInput()
	if in == nil {
		return &WiringError{Reason: fmt.Sprintf("agent %s has no input port to feed", a.uuid)}
	}
	return in.Receive(v, Parents{})
}

// NoteInput records the delivery currently being processed so a failure can
// report the offending message.
func (a *BaseAgent) NoteInput(d Delivery) { a.lastInput = &d }

// LastInput returns the most recently consumed delivery.
func (a *BaseAgent) LastInput() (Delivery, bool) {
	if a.lastInput == nil {
		return Delivery{}, false
	}
	return *a.lastInput, true
}

// Step implements the default single-step contract: pop at most one message
// from the default input port, validate it, dispatch to process/run, and
// route the result through the output port with the incoming parents.
func (a *BaseAgent) Step() (Activity, error) {
	in := a.defaultInput()
	if in == nil {
		return Idle, nil
	}
	d, ok := in.Pop()
	if !ok {
		return Idle, nil
	}
	a.NoteInput(d)

	if err := validate(in.Schema(), d.Payload); err != nil {
		return Productive, &SchemaError{AgentUUID: a.uuid, Schema: schemaName(in.Schema()), Direction: In, Cause: err}
	}

	result, err := a.invoke(d.Payload, d.Parents)
	if err != nil {
		return Productive, err
	}
	if err := a.route(result, d.Parents); err != nil {
		return Productive, err
	}
	return Productive, nil
}

func (a *BaseAgent) invoke(v any, parents Parents) (any, error) {
	if a.processFn != nil {
		return a.processFn(v, parents)
	}
	if a.runFn != nil {
		return a.runFn(v)
	}
	return v, nil
}

// route emits a handler result: nil means no output, SplitOutput is one
// split send, []any is one independent send per element, anything else a
// single send. Parents pass through unchanged; Send appends the fresh tag.
func (a *BaseAgent) route(result any, parents Parents) error {
	switch out := result.(type) {
	case nil:
		return nil
	case SplitOutput:
		if len(out.Items) == 0 {
			return nil
		}
		for _, item := range out.Items {
			if err := a.checkOutput(item); err != nil {
				return err
			}
		}
		return a.output.SendSplit(out.Items, parents)
	case []any:
		for _, item := range out {
			if err := a.checkOutput(item); err != nil {
				return err
			}
			if err := a.output.Send(item, parents); err != nil {
				return err
			}
		}
		return nil
	default:
		if err := a.checkOutput(result); err != nil {
			return err
		}
		return a.output.Send(result, parents)
	}
}

func (a *BaseAgent) checkOutput(v any) error {
	if err := validate(a.output.Schema(), v); err != nil {
		return &SchemaError{AgentUUID: a.uuid, Schema: schemaName(a.output.Schema()), Direction: Out, Cause: err}
	}
	return nil
}

// Snapshot serializes identity, active flag, and the registered state.
func (a *BaseAgent) Snapshot() (*AgentSnapshot, error) {
	snap := &AgentSnapshot{
		UUID:    a.uuid,
		Kind:    a.kind,
		Version: a.stateVersion,
		Active:  a.active,
	}
	if a.state != nil {
		raw, err := json.Marshal(a.state)
		if err != nil {
			return nil, fmt.Errorf("agent %s: marshal state: %w", a.uuid, err)
		}
		snap.State = raw
	}
	return snap, nil
}

// Restore rehydrates the active flag and state. Identity must match.
func (a *BaseAgent) Restore(snap *AgentSnapshot) error {
	if snap.UUID != a.uuid {
		return fmt.Errorf("agent %s: snapshot is for %s", a.uuid, snap.UUID)
	}
	a.active = snap.Active
	if len(snap.State) > 0 && a.state != nil {
		if err := json.Unmarshal(snap.State, a.state); err != nil {
			return fmt.Errorf("agent %s: unmarshal state: %w", a.uuid, err)
		}
	}
	return nil
}
