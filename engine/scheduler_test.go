package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(id string) *BaseAgent {
	return NewBaseAgent("identity",
		WithUUID(id),
		WithInput(nil),
		WithRun(func(v any) (any, error) { return v, nil }),
	)
}

func TestAddAgentRejectsDuplicates(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.AddAgent(identity("a")))
	assert.Error(t, s.AddAgent(identity("a")))
}

func TestStepEmptyScheduler(t *testing.T) {
	s := NewScheduler()
	act, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Idle, act)
	assert.NoError(t, s.StepAll(context.Background()))
}

// Linear chain: A -> B -> C. The sink receives the seed with one provenance
// tag per traversal.
func TestLinearChain(t *testing.T) {
	a := identity("a")
	b := identity("b")
	c := newRecorder("c", nil)
	require.NoError(t, a.ConnectTo(b))
	require.NoError(t, b.ConnectTo(c))

	s := NewScheduler()
	for _, ag := range []Agent{a, b, c} {
		require.NoError(t, s.AddAgent(ag))
	}

	require.NoError(t, a.Feed(1))
	require.NoError(t, s.StepAll(context.Background()))

	require.Len(t, c.got, 1)
	assert.Equal(t, 1, c.got[0].Payload)
	// One tag per traversal: a -> b, then b -> c.
	assert.Len(t, c.got[0].Parents, 2)
}

// Fan-out: both sinks receive the message once, with different UUIDs in the
// final tag.
func TestFanOut(t *testing.T) {
	a := identity("a")
	b := newRecorder("b", nil)
	d := newRecorder("d", nil)
	require.NoError(t, a.ConnectTo(b))
	require.NoError(t, a.ConnectTo(d))

	s := NewScheduler()
	for _, ag := range []Agent{a, b, d} {
		require.NoError(t, s.AddAgent(ag))
	}
	require.NoError(t, a.Feed("x"))
	require.NoError(t, s.StepAll(context.Background()))

	require.Len(t, b.got, 1)
	require.Len(t, d.got, 1)
	assert.Equal(t, "x", b.got[0].Payload)
	assert.Equal(t, "x", d.got[0].Payload)

	lastB := b.got[0].Parents[len(b.got[0].Parents)-1]
	lastD := d.got[0].Parents[len(d.got[0].Parents)-1]
	assert.NotEqual(t, lastB.ID, lastD.ID)
	assert.Equal(t, 0, lastB.Index)
	assert.Equal(t, 1, lastB.Total)
	assert.Equal(t, 0, lastD.Index)
	assert.Equal(t, 1, lastD.Total)
}

// Conditional routing: a source fed 1..5 feeds a sink through an even-only
// filter.
func TestConditionalRouting(t *testing.T) {
	src := identity("src")
	sink := newRecorder("sink", nil)
	even := func(v any) bool { n, ok := v.(int); return ok && n%2 == 0 }
	require.NoError(t, src.ConnectTo(sink, WithCondition(even)))

	s := NewScheduler()
	require.NoError(t, s.AddAgent(src))
	require.NoError(t, s.AddAgent(sink))

	for i := 1; i <= 5; i++ {
		require.NoError(t, src.Feed(i))
	}
	require.NoError(t, s.StepAll(context.Background()))

	var values []int
	for _, d := range sink.got {
		values = append(values, d.Payload.(int))
	}
	assert.Equal(t, []int{2, 4}, values)
}

func TestRoundRobinIsStrict(t *testing.T) {
	var visits []string
	mk := func(id string) Agent {
		return NewBaseAgent("probe", WithUUID(id), WithInput(nil),
			WithProcess(func(v any, _ Parents) (any, error) {
				visits = append(visits, id)
				return nil, nil
			}))
	}
	a, b := mk("a"), mk("b")
	s := NewScheduler()
	require.NoError(t, s.AddAgent(a))
	require.NoError(t, s.AddAgent(b))

	require.NoError(t, a.Feed(1))
	require.NoError(t, a.Feed(2))
	require.NoError(t, b.Feed(3))
	require.NoError(t, s.StepAll(context.Background()))

	assert.Equal(t, []string{"a", "b", "a"}, visits)
}

func TestQuiescenceIsStable(t *testing.T) {
	a := identity("a")
	sink := newRecorder("sink", nil)
	require.NoError(t, a.ConnectTo(sink))

	s := NewScheduler()
	require.NoError(t, s.AddAgent(a))
	require.NoError(t, s.AddAgent(sink))
	require.NoError(t, a.Feed(1))

	require.NoError(t, s.StepAll(context.Background()))
	steps := s.StepCounter()
	assert.True(t, s.Quiesced())

	// Without new input, another drive is a no-op.
	require.NoError(t, s.StepAll(context.Background()))
	assert.Equal(t, steps, s.StepCounter())

	// New input wakes the pipeline up again.
	require.NoError(t, a.Feed(2))
	require.NoError(t, s.StepAll(context.Background()))
	assert.Greater(t, s.StepCounter(), steps)
	assert.Len(t, sink.got, 2)
}

func TestSeedIntoUnconnectedProducerTerminates(t *testing.T) {
	a := identity("a")
	s := NewScheduler()
	require.NoError(t, s.AddAgent(a))
	require.NoError(t, a.Feed("x"))

	require.NoError(t, s.StepAll(context.Background()))
	assert.Equal(t, []any{"x"}, a.Output().FinalOutputs())
}

func TestInactiveAgentIsSkipped(t *testing.T) {
	a := identity("a")
	a.SetActive(false)
	s := NewScheduler()
	require.NoError(t, s.AddAgent(a))
	require.NoError(t, a.Feed(1))

	require.NoError(t, s.StepAll(context.Background()))
	// Message still queued: the agent never ran.
	assert.Equal(t, 1, a.Input("").Len())
}

func TestErrorCapture(t *testing.T) {
	boom := errors.New("boom")
	bad := NewBaseAgent("bad", WithUUID("bad"), WithInput(nil),
		WithRun(func(v any) (any, error) { return nil, boom }))
	after := newRecorder("after", nil)

	s := NewScheduler()
	require.NoError(t, s.AddAgent(bad))
	require.NoError(t, s.AddAgent(after))

	require.NoError(t, bad.Feed("poison"))
	require.NoError(t, after.Feed("fine"))

	_, err := s.Step(context.Background())
	var serr *SchedulerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "bad", serr.AgentUUID)
	assert.Equal(t, 1, serr.Step)
	assert.ErrorIs(t, serr, boom)
	require.NotNil(t, serr.Offending)
	assert.Equal(t, "poison", serr.Offending.Payload)

	// The cursor advanced past the failing agent.
	act, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Productive, act)
	assert.Len(t, after.got, 1)

	require.Len(t, s.Errors(), 1)
}

func TestContinueOnError(t *testing.T) {
	boom := errors.New("boom")
	bad := NewBaseAgent("bad", WithUUID("bad"), WithInput(nil),
		WithRun(func(v any) (any, error) { return nil, boom }))
	after := newRecorder("after", nil)

	s := NewScheduler(WithContinueOnError())
	require.NoError(t, s.AddAgent(bad))
	require.NoError(t, s.AddAgent(after))

	require.NoError(t, bad.Feed(1))
	require.NoError(t, bad.Feed(2))
	require.NoError(t, after.Feed("fine"))

	require.NoError(t, s.StepAll(context.Background()))
	assert.Len(t, s.Errors(), 2)
	assert.Len(t, after.got, 1)
	assert.Equal(t, 0, bad.Input("").Len())
}

func TestEntryAgentsAndPipelineCollection(t *testing.T) {
	a := identity("a")
	b := identity("b")
	c := identity("c")
	require.NoError(t, a.ConnectTo(b))
	require.NoError(t, b.ConnectTo(c))

	s := NewScheduler()
	require.NoError(t, s.AddAgent(a))
	require.NoError(t, s.AddAgent(b))
	require.NoError(t, s.AddAgent(c))

	entries := s.EntryAgents()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].UUID())

	collected := CollectPipeline(a)
	require.Len(t, collected, 3)
	assert.Equal(t, "a", collected[0].UUID())
	assert.Equal(t, "b", collected[1].UUID())
	assert.Equal(t, "c", collected[2].UUID())
}

func TestAddPipelineAndValidate(t *testing.T) {
	a := identity("a")
	b := identity("b")
	require.NoError(t, a.ConnectTo(b))

	s := NewScheduler()
	require.NoError(t, s.AddAgent(a))
	var werr *WiringError
	assert.ErrorAs(t, s.ValidatePipeline(), &werr)

	require.NoError(t, s.AddPipeline(a))
	assert.NoError(t, s.ValidatePipeline())
	assert.Len(t, s.Agents(), 2)
}

func TestCyclicWiringTerminates(t *testing.T) {
	// a -> b -> a, with a condition that stops the loop at 3.
	aAgent := NewBaseAgent("inc", WithUUID("a"), WithInput(nil),
		WithRun(func(v any) (any, error) { return v.(int) + 1, nil }))
	b := identity("b")

	below := func(v any) bool { n, ok := v.(int); return ok && n < 3 }
	require.NoError(t, aAgent.ConnectTo(b))
	require.NoError(t, b.ConnectTo(aAgent, WithCondition(below)))

	s := NewScheduler()
	require.NoError(t, s.AddAgent(aAgent))
	require.NoError(t, s.AddAgent(b))

	require.NoError(t, aAgent.Feed(0))
	require.NoError(t, s.StepAll(context.Background()))
	assert.True(t, s.Quiesced())
}
