// Package engine implements the message-passing pipeline core: typed ports
// with transforming, filtering connections; agents with a single-step
// execution contract; provenance tags that let aggregators reassemble split
// messages; and a deterministic round-robin scheduler with checkpoint and
// resume.
//
// Agents are wired by connecting output ports to input ports:
//
//	a := agents.NewIdentity("a")
//	b := agents.NewIdentity("b")
//	_ = a.ConnectTo(b)
//
//	sched := engine.NewScheduler()
//	_ = sched.AddAgent(a)
//	_ = sched.AddAgent(b)
//	_ = a.Feed("hello")
//	_ = sched.StepAll(context.Background())
//
// The engine is single-threaded cooperative. StepAll runs one agent step at
// a time and returns once a full round produced no work. Sends enqueue only;
// no downstream agent runs inside a send, so cyclic wiring cannot recurse.
package engine
