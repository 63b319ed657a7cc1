package engine

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/git5001/agentpipe/internal/metrics"
)

// Direction tells whether a port consumes or produces messages.
type Direction int

const (
	In Direction = iota + 1
	Out
)

// DefaultInput and DefaultOutput are the names of the single input and output
// port on agents that do not declare named ports.
const (
	DefaultInput  = "in"
	DefaultOutput = "out"
)

// Transformer rewrites a message into zero or more messages for one
// connection. Returning an empty slice drops the message on that connection.
type Transformer func(v any) ([]any, error)

// Condition filters messages on one connection after transformation.
type Condition func(v any) bool

// One maps a single-value function into a Transformer.
func One(fn func(v any) (any, error)) Transformer {
	return func(v any) ([]any, error) {
		out, err := fn(v)
		if err != nil {
			return nil, err
		}
		return []any{out}, nil
	}
}

// Connection is a directed link from an output port to an input port. The
// agent references exist for introspection and rendering only; a connection
// owns neither endpoint.
type Connection struct {
	target    *Port
	transform Transformer
	cond      Condition
	source    Agent
	dest      Agent
}

// Target returns the input port this connection delivers into.
func (c *Connection) Target() *Port { return c.target }

// Source and Dest return the agents behind the endpoints; either may be nil
// for ports wired outside an agent.
func (c *Connection) Source() Agent { return c.source }
func (c *Connection) Dest() Agent   { return c.dest }

// Delivery is one queued (parents, message) pair.
type Delivery struct {
	Parents Parents
	Payload any
}

// Port is a typed endpoint. Input ports own a FIFO queue; output ports own an
// ordered connection list and a buffer for sends that had nowhere to go.
type Port struct {
	dir    Direction
	name   string
	schema Schema
	owner  Agent

	queue       []Delivery
	conns       []*Connection
	unconnected []Delivery
}

// NewInputPort creates an input port. A nil schema accepts anything.
func NewInputPort(name string, schema Schema) *Port {
	return &Port{dir: In, name: name, schema: schema}
}

// NewOutputPort creates an output port.
func NewOutputPort(name string, schema Schema) *Port {
	return &Port{dir: Out, name: name, schema: schema}
}

func (p *Port) Name() string        { return p.name }
func (p *Port) Direction() Direction { return p.dir }
func (p *Port) Schema() Schema      { return p.schema }

// Owner returns the agent that owns this port, if any.
func (p *Port) Owner() Agent { return p.owner }

func (p *Port) setOwner(a Agent) { p.owner = a }

// Len returns the queue depth of an input port.
func (p *Port) Len() int { return len(p.queue) }

// UnconnectedLen returns how many sends accumulated without a connection.
func (p *Port) UnconnectedLen() int { return len(p.unconnected) }

// Connections returns the outbound connections in declaration order.
func (p *Port) Connections() []*Connection { return p.conns }

// ConnectOption configures a single connection.
type ConnectOption func(*Connection)

// WithTransformer attaches a per-connection message transformer.
func WithTransformer(t Transformer) ConnectOption {
	return func(c *Connection) { c.transform = t }
}

// WithCondition attaches a per-connection filter, evaluated after the
// transformer on each produced sub-message.
func WithCondition(cond Condition) ConnectOption {
	return func(c *Connection) { c.cond = cond }
}

// Connect appends a connection from this output port to target. Only
// output-to-input links are legal; anything else is a WiringError.
func (p *Port) Connect(target *Port, opts ...ConnectOption) error {
	if p.dir != Out {
		return &WiringError{Reason: "only output ports can connect"}
	}
	if target == nil {
		return &WiringError{Reason: "nil target port"}
	}
	if target.dir != In {
		return &WiringError{Reason: "can only connect to input ports"}
	}
	conn := &Connection{target: target, source: p.owner, dest: target.owner}
	for _, opt := range opts {
		opt(conn)
	}
	p.conns = append(p.conns, conn)
	return nil
}

// Receive appends one delivery to an input port's queue.
func (p *Port) Receive(v any, parents Parents) error {
	if p.dir != In {
		return &WiringError{Reason: "output ports cannot receive"}
	}
	p.queue = append(p.queue, Delivery{Parents: parents, Payload: v})
	metrics.Deliveries.Inc()
	return nil
}

// Pop removes and returns the oldest delivery on an input port.
func (p *Port) Pop() (Delivery, bool) {
	if len(p.queue) == 0 {
		return Delivery{}, false
	}
	d := p.queue[0]
	p.queue = p.queue[1:]
	return d, true
}

// Peek returns the oldest delivery without removing it.
func (p *Port) Peek() (Delivery, bool) {
	if len(p.queue) == 0 {
		return Delivery{}, false
	}
	return p.queue[0], true
}

// Send routes one message through every connection in declaration order.
// Each connection mints its own fresh UUID, so a fan-out to K connections
// yields K distinct U values; siblings only ever belong to one connection.
// Delivery is enqueue-only: no downstream step runs inside Send, which keeps
// cyclic wiring safe.
func (p *Port) Send(v any, parents Parents) error {
	return p.dispatch([]any{v}, parents, false)
}

// SendSplit is the privileged overload for agents that split one message into
// pieces meant to be reassembled downstream: one send call, each piece tagged
// index i of total len(items) per connection.
func (p *Port) SendSplit(items []any, parents Parents) error {
	return p.dispatch(items, parents, true)
}

func (p *Port) dispatch(items []any, parents Parents, split bool) error {
	if p.dir != Out {
		return &WiringError{Reason: "only output ports can send"}
	}
	metrics.Sends.Inc()

	if len(p.conns) == 0 {
		// Sink-inspection aid: keep what had nowhere to go, freshly tagged.
		if split {
			u := uuid.NewString()
			for i, item := range items {
				pid := ParentID{ID: u, Index: i, Total: len(items)}
				p.unconnected = append(p.unconnected, Delivery{
					Parents: append(parents.Clone(), pid),
					Payload: item,
				})
			}
		} else {
			for _, item := range items {
				p.unconnected = append(p.unconnected, Delivery{
					Parents: append(parents.Clone(), Mint(0, 1)),
					Payload: item,
				})
			}
		}
		return nil
	}

	for _, c := range p.conns {
		out := items
		if c.transform != nil {
			var transformed []any
			for _, item := range out {
				sub, err := c.transform(item)
				if err != nil {
					return err
				}
				transformed = append(transformed, sub...)
			}
			out = transformed
		}
		if c.cond != nil {
			var kept []any
			for _, item := range out {
				if c.cond(item) {
					kept = append(kept, item)
				}
			}
			out = kept
		}
		total := len(out)
		if total == 0 {
			continue
		}
		u := uuid.NewString()
		for i, item := range out {
			pid := ParentID{ID: u, Index: i, Total: total}
			if err := c.target.Receive(item, append(parents.Clone(), pid)); err != nil {
				return err
			}
		}
	}
	return nil
}

// PopOutput removes and returns one buffered unconnected output.
func (p *Port) PopOutput() (any, bool) {
	if len(p.unconnected) == 0 {
		return nil, false
	}
	d := p.unconnected[0]
	p.unconnected = p.unconnected[1:]
	return d.Payload, true
}

// FinalOutputs returns the payloads buffered on an unconnected output port
// without consuming them.
func (p *Port) FinalOutputs() []any {
	out := make([]any, len(p.unconnected))
	for i, d := range p.unconnected {
		out[i] = d.Payload
	}
	return out
}

// ClearFinalOutputs drops the unconnected-output buffer.
func (p *Port) ClearFinalOutputs() { p.unconnected = nil }

// deliverySnapshot is the persisted form of one queued delivery.
type deliverySnapshot struct {
	Parents []ParentID      `json:"parents"`
	Message json.RawMessage `json:"message"`
}

// portSnapshot is the persisted form of one port, matching the
// ports/<name>.json checkpoint layout.
type portSnapshot struct {
	Queue       []deliverySnapshot `json:"queue"`
	Unconnected []deliverySnapshot `json:"unconnected"`
}

func snapshotDeliveries(ds []Delivery) ([]deliverySnapshot, error) {
	out := make([]deliverySnapshot, 0, len(ds))
	for _, d := range ds {
		raw, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, deliverySnapshot{Parents: d.Parents, Message: raw})
	}
	return out, nil
}

func restoreDeliveries(s Schema, snaps []deliverySnapshot) ([]Delivery, error) {
	var out []Delivery
	for _, snap := range snaps {
		payload, err := decodePayload(s, snap.Message)
		if err != nil {
			return nil, err
		}
		out = append(out, Delivery{Parents: snap.Parents, Payload: payload})
	}
	return out, nil
}

// Snapshot serializes the port's queue and unconnected buffer.
func (p *Port) Snapshot() ([]byte, error) {
	queue, err := snapshotDeliveries(p.queue)
	if err != nil {
		return nil, err
	}
	unconnected, err := snapshotDeliveries(p.unconnected)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(portSnapshot{Queue: queue, Unconnected: unconnected}, "", "  ")
}

// Restore replaces the port's queue and unconnected buffer from a snapshot,
// rebuilding typed payloads through the port schema.
func (p *Port) Restore(data []byte) error {
	var snap portSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	queue, err := restoreDeliveries(p.schema, snap.Queue)
	if err != nil {
		return err
	}
	unconnected, err := restoreDeliveries(p.schema, snap.Unconnected)
	if err != nil {
		return err
	}
	p.queue = queue
	p.unconnected = unconnected
	return nil
}
