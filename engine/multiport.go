package engine

// PortProcessFunc handles one message popped from a named input port.
type PortProcessFunc func(port string, v any, parents Parents) (any, error)

// MultiPortAgent is an agent with several named input ports. Each Step pops
// one message, chosen round-robin across non-empty ports, so the scheduler
// still observes at most one message consumed per step.
type MultiPortAgent struct {
	*BaseAgent
	portFn PortProcessFunc
	rrIdx  int
}

// NewMultiPortAgent builds a multi-port agent. Declare ports with
// WithInputPort; the first declared port doubles as the default for Feed.
func NewMultiPortAgent(kind string, portFn PortProcessFunc, opts ...AgentOption) *MultiPortAgent {
	return &MultiPortAgent{
		BaseAgent: NewBaseAgent(kind, opts...),
		portFn:    portFn,
		rrIdx:     -1,
	}
}

// Step pops one message from the next non-empty input port in round-robin
// order and routes the handler result like the single-port contract.
func (a *MultiPortAgent) Step() (Activity, error) {
	n := len(a.inputOrder)
	if n == 0 {
		return Idle, nil
	}

	var port *Port
	var portName string
	for i := 0; i < n; i++ {
		probe := (a.rrIdx + 1 + i) % n
		name := a.inputOrder[probe]
		if a.inputs[name].Len() > 0 {
			a.rrIdx = probe
			port = a.inputs[name]
			portName = name
			break
		}
	}
	if port == nil {
		return Idle, nil
	}

	d, _ := port.Pop()
	a.NoteInput(d)

	if err := validate(port.Schema(), d.Payload); err != nil {
		return Productive, &SchemaError{AgentUUID: a.uuid, Schema: schemaName(port.Schema()), Direction: In, Cause: err}
	}

	result, err := a.invokePort(portName, d.Payload, d.Parents)
	if err != nil {
		return Productive, err
	}
	if err := a.route(result, d.Parents); err != nil {
		return Productive, err
	}
	return Productive, nil
}

func (a *MultiPortAgent) invokePort(port string, v any, parents Parents) (any, error) {
	if a.portFn != nil {
		return a.portFn(port, v, parents)
	}
	return a.invoke(v, parents)
}

// Snapshot also carries the round-robin cursor so a resumed run drains ports
// in the same order as an uninterrupted one.
func (a *MultiPortAgent) Snapshot() (*AgentSnapshot, error) {
	snap, err := a.BaseAgent.Snapshot()
	if err != nil {
		return nil, err
	}
	snap.Cursor = a.rrIdx + 1
	return snap, nil
}

func (a *MultiPortAgent) Restore(snap *AgentSnapshot) error {
	if err := a.BaseAgent.Restore(snap); err != nil {
		return err
	}
	a.rrIdx = snap.Cursor - 1
	return nil
}
