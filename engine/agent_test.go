package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a sink that remembers every delivery it consumed.
type recorder struct {
	*BaseAgent
	got []Delivery
}

func newRecorder(id string, schema Schema) *recorder {
	r := &recorder{}
	r.BaseAgent = NewBaseAgent("recorder",
		WithUUID(id),
		WithInput(schema),
		WithProcess(func(v any, parents Parents) (any, error) {
			r.got = append(r.got, Delivery{Parents: parents, Payload: v})
			return nil, nil
		}),
	)
	return r
}

func TestBaseAgentIdleWithoutInput(t *testing.T) {
	a := NewBaseAgent("noop", WithInput(nil))
	act, err := a.Step()
	require.NoError(t, err)
	assert.Equal(t, Idle, act)
}

func TestBaseAgentNoInputPortsIsIdle(t *testing.T) {
	a := NewBaseAgent("source")
	act, err := a.Step()
	require.NoError(t, err)
	assert.Equal(t, Idle, act)

	var werr *WiringError
	assert.ErrorAs(t, a.Feed(1), &werr)
}

func TestBaseAgentFeedAndStep(t *testing.T) {
	a := NewBaseAgent("identity", WithInput(nil), WithRun(func(v any) (any, error) { return v, nil }))
	sink := newRecorder("sink", nil)
	require.NoError(t, a.ConnectTo(sink))

	require.NoError(t, a.Feed("hello"))
	act, err := a.Step()
	require.NoError(t, err)
	assert.Equal(t, Productive, act)

	act, err = sink.Step()
	require.NoError(t, err)
	assert.Equal(t, Productive, act)

	require.Len(t, sink.got, 1)
	assert.Equal(t, "hello", sink.got[0].Payload)
	// One tag for the single traversal a -> sink; the seed had none.
	assert.Len(t, sink.got[0].Parents, 1)
}

func TestBaseAgentConsumesAtMostOne(t *testing.T) {
	a := NewBaseAgent("identity", WithInput(nil))
	require.NoError(t, a.Feed(1))
	require.NoError(t, a.Feed(2))

	_, err := a.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, a.Input("").Len())
}

func TestBaseAgentInputValidation(t *testing.T) {
	a := NewBaseAgent("typed", WithInput(SchemaOf[int]("int")))
	require.NoError(t, a.Feed("not an int"))

	act, err := a.Step()
	assert.Equal(t, Productive, act)
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, In, serr.Direction)

	// The offending message is consumed, not re-queued.
	assert.Equal(t, 0, a.Input("").Len())
	d, ok := a.LastInput()
	require.True(t, ok)
	assert.Equal(t, "not an int", d.Payload)
}

func TestBaseAgentOutputValidation(t *testing.T) {
	a := NewBaseAgent("typed",
		WithInput(nil),
		WithOutput(SchemaOf[int]("int")),
		WithRun(func(v any) (any, error) { return "oops", nil }),
	)
	require.NoError(t, a.Feed(1))

	_, err := a.Step()
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, Out, serr.Direction)
}

func TestBaseAgentRunError(t *testing.T) {
	boom := errors.New("boom")
	a := NewBaseAgent("bad", WithInput(nil), WithRun(func(v any) (any, error) { return nil, boom }))
	require.NoError(t, a.Feed(1))

	act, err := a.Step()
	assert.Equal(t, Productive, act)
	assert.ErrorIs(t, err, boom)
}

func TestBaseAgentNilResultEmitsNothing(t *testing.T) {
	a := NewBaseAgent("drop", WithInput(nil), WithRun(func(v any) (any, error) { return nil, nil }))
	sink := newRecorder("sink", nil)
	require.NoError(t, a.ConnectTo(sink))

	require.NoError(t, a.Feed(1))
	_, err := a.Step()
	require.NoError(t, err)
	assert.Equal(t, 0, sink.Input("").Len())
}

func TestBaseAgentListResultIsIndependentSends(t *testing.T) {
	a := NewBaseAgent("multi", WithInput(nil), WithRun(func(v any) (any, error) {
		return []any{"a", "b"}, nil
	}))
	sink := newRecorder("sink", nil)
	require.NoError(t, a.ConnectTo(sink))

	require.NoError(t, a.Feed(0))
	_, err := a.Step()
	require.NoError(t, err)

	in := sink.Input("")
	require.Equal(t, 2, in.Len())
	d1, _ := in.Pop()
	d2, _ := in.Pop()
	// Separate sends: distinct UUIDs, each 0 of 1.
	assert.NotEqual(t, d1.Parents[0].ID, d2.Parents[0].ID)
	assert.Equal(t, 1, d1.Parents[0].Total)
	assert.Equal(t, 1, d2.Parents[0].Total)
}

func TestBaseAgentSplitResultIsOneSend(t *testing.T) {
	a := NewBaseAgent("splitter", WithInput(nil), WithRun(func(v any) (any, error) {
		return Split("a", "b", "c"), nil
	}))
	sink := newRecorder("sink", nil)
	require.NoError(t, a.ConnectTo(sink))

	require.NoError(t, a.Feed(0))
	_, err := a.Step()
	require.NoError(t, err)

	in := sink.Input("")
	require.Equal(t, 3, in.Len())
	var ids []string
	for i := 0; i < 3; i++ {
		d, _ := in.Pop()
		assert.Equal(t, i, d.Parents[0].Index)
		assert.Equal(t, 3, d.Parents[0].Total)
		ids = append(ids, d.Parents[0].ID)
	}
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[1], ids[2])
}

func TestConnectToPort(t *testing.T) {
	a := NewBaseAgent("src", WithInput(nil))
	b := NewMultiPortAgent("multi", nil,
		WithInputPort("text", nil),
		WithInputPort("meta", nil),
	)

	require.NoError(t, a.ConnectToPort(b, "meta"))
	var werr *WiringError
	assert.ErrorAs(t, a.ConnectToPort(b, "nope"), &werr)

	require.NoError(t, a.Feed("x"))
	_, err := a.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, b.Input("meta").Len())
	assert.Equal(t, 0, b.Input("text").Len())
}

func TestMultiPortRoundRobin(t *testing.T) {
	var order []string
	a := NewMultiPortAgent("multi",
		func(port string, v any, parents Parents) (any, error) {
			order = append(order, port)
			return nil, nil
		},
		WithInputPort("x", nil),
		WithInputPort("y", nil),
	)

	require.NoError(t, a.Input("x").Receive(1, Parents{}))
	require.NoError(t, a.Input("x").Receive(2, Parents{}))
	require.NoError(t, a.Input("y").Receive(3, Parents{}))

	for i := 0; i < 3; i++ {
		act, err := a.Step()
		require.NoError(t, err)
		assert.Equal(t, Productive, act)
	}
	act, err := a.Step()
	require.NoError(t, err)
	assert.Equal(t, Idle, act)

	assert.Equal(t, []string{"x", "y", "x"}, order)
}

func TestAgentSnapshotRoundTrip(t *testing.T) {
	type state struct {
		Count int `json:"count"`
	}
	s1 := &state{Count: 7}
	a := NewBaseAgent("stateful", WithUUID("agent-1"), WithState(s1, 2))
	a.SetActive(false)

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "agent-1", snap.UUID)
	assert.Equal(t, 2, snap.Version)

	s2 := &state{}
	b := NewBaseAgent("stateful", WithUUID("agent-1"), WithState(s2, 2))
	require.NoError(t, b.Restore(snap))
	assert.Equal(t, 7, s2.Count)
	assert.False(t, b.Active())

	c := NewBaseAgent("stateful", WithUUID("other"))
	assert.Error(t, c.Restore(snap))
}
