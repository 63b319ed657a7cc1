package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git5001/agentpipe/engine"
)

// Split-and-reassemble: a splitting transformer fans one message into
// pieces; the collector emits exactly one message equal to the original
// list, with the splitter's emitted prefix as parents.
func TestCollectorReassemblesSplit(t *testing.T) {
	src := NewIdentity("src")
	col := NewListCollector("col")
	sink := newCapture("sink")

	split := func(v any) ([]any, error) {
		var out []any
		for _, r := range v.(string) {
			out = append(out, string(r))
		}
		return out, nil
	}
	require.NoError(t, src.ConnectTo(col, engine.WithTransformer(split)))
	require.NoError(t, col.ConnectTo(sink))

	require.NoError(t, src.Feed("abc"))
	drive(t, src, col, sink)

	require.Len(t, sink.got, 1)
	assert.Equal(t, []any{"a", "b", "c"}, sink.got[0].Payload)
	// src's emitted prefix is empty (seed had no parents), so the composed
	// message carries just the collector's own send tag.
	assert.Len(t, sink.got[0].Parents, 1)
	assert.Equal(t, 0, col.PendingBuckets())
}

func TestCollectorReassemblesAgentSplit(t *testing.T) {
	splitter := engine.NewBaseAgent("splitter",
		engine.WithUUID("splitter"),
		engine.WithInput(nil),
		engine.WithRun(func(v any) (any, error) {
			return engine.Split(1, 2, 3), nil
		}),
	)
	col := NewListCollector("col")
	sink := newCapture("sink")
	require.NoError(t, splitter.ConnectTo(col))
	require.NoError(t, col.ConnectTo(sink))

	require.NoError(t, splitter.Feed("go"))
	drive(t, splitter, col, sink)

	require.Len(t, sink.got, 1)
	assert.Equal(t, []any{1, 2, 3}, sink.got[0].Payload)
}

func TestCollectorPassesSingletonsThrough(t *testing.T) {
	src := NewIdentity("src")
	col := NewListCollector("col")
	sink := newCapture("sink")
	require.NoError(t, src.ConnectTo(col))
	require.NoError(t, col.ConnectTo(sink))

	require.NoError(t, src.Feed("solo"))
	drive(t, src, col, sink)

	require.Len(t, sink.got, 1)
	assert.Equal(t, []any{"solo"}, sink.got[0].Payload)
	assert.Equal(t, 0, col.PendingBuckets())
}

func TestCollectorSeparatesGroups(t *testing.T) {
	col := NewListCollector("col")
	sink := newCapture("sink")
	require.NoError(t, col.ConnectTo(sink))

	// Interleave two splits of two pieces each.
	g1 := engine.Mint(0, 2)
	g1b := engine.ParentID{ID: g1.ID, Index: 1, Total: 2}
	g2 := engine.Mint(0, 2)
	g2b := engine.ParentID{ID: g2.ID, Index: 1, Total: 2}
	in := col.Input("")
	require.NoError(t, in.Receive("a1", engine.Parents{g1}))
	require.NoError(t, in.Receive("b1", engine.Parents{g2}))
	require.NoError(t, in.Receive("b2", engine.Parents{g2b}))
	require.NoError(t, in.Receive("a2", engine.Parents{g1b}))

	drive(t, col, sink)

	require.Len(t, sink.got, 2)
	// Group 2 completed first.
	assert.Equal(t, []any{"b1", "b2"}, sink.got[0].Payload)
	assert.Equal(t, []any{"a1", "a2"}, sink.got[1].Payload)
}

func TestCollectorOutOfOrderIndices(t *testing.T) {
	col := NewListCollector("col")
	sink := newCapture("sink")
	require.NoError(t, col.ConnectTo(sink))

	u := engine.Mint(0, 3)
	p0 := u
	p1 := engine.ParentID{ID: u.ID, Index: 1, Total: 3}
	p2 := engine.ParentID{ID: u.ID, Index: 2, Total: 3}

	in := col.Input("")
	require.NoError(t, in.Receive("c", engine.Parents{p2}))
	require.NoError(t, in.Receive("a", engine.Parents{p0}))
	require.NoError(t, in.Receive("b", engine.Parents{p1}))

	drive(t, col, sink)

	require.Len(t, sink.got, 1)
	assert.Equal(t, []any{"a", "b", "c"}, sink.got[0].Payload)
}

func TestCollectorPartialBucketSurvivesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	u := engine.Mint(0, 2)
	p1 := engine.ParentID{ID: u.ID, Index: 1, Total: 2}

	build := func() (*engine.Scheduler, *ListCollector, *capture) {
		col := NewListCollector("col")
		sink := newCapture("sink")
		require.NoError(t, col.ConnectTo(sink))
		s := engine.NewScheduler(engine.WithSaveDir(dir), engine.WithSaveStep(1))
		require.NoError(t, s.AddAgent(col))
		require.NoError(t, s.AddAgent(sink))
		return s, col, sink
	}

	s1, col1, _ := build()
	require.NoError(t, col1.Input("").Receive("first", engine.Parents{u}))
	_, err := s1.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, col1.PendingBuckets())

	s2, col2, sink2 := build()
	require.NoError(t, s2.Load(ctx, "step_1"))
	assert.Equal(t, 1, col2.PendingBuckets())

	require.NoError(t, col2.Input("").Receive("second", engine.Parents{p1}))
	require.NoError(t, s2.StepAll(ctx))

	require.Len(t, sink2.got, 1)
	assert.Equal(t, []any{"first", "second"}, sink2.got[0].Payload)
}

func TestCollectorFlattensListPieces(t *testing.T) {
	col := NewListCollector("col")
	sink := newCapture("sink")
	require.NoError(t, col.ConnectTo(sink))

	u := engine.Mint(0, 2)
	p1 := engine.ParentID{ID: u.ID, Index: 1, Total: 2}
	in := col.Input("")
	require.NoError(t, in.Receive([]any{1, 2}, engine.Parents{u}))
	require.NoError(t, in.Receive([]any{3}, engine.Parents{p1}))

	drive(t, col, sink)

	require.Len(t, sink.got, 1)
	assert.Equal(t, []any{1, 2, 3}, sink.got[0].Payload)
}
