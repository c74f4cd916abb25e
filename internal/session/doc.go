// Package session owns conversation state across turns.
//
// # Architecture Overview
//
// The package is built around two components:
//
//   - Session: the per-conversation state machine. It runs turns through a
//     runner.Runner and appends each turn's messages to the transcript
//     under a serialized commit.
//   - Service: the application host. It opens sessions from the
//     repository, wires persistence and artifact bookkeeping into the
//     commit hooks and publishes bus events.
//
// # Commits
//
// Every session has one commit worker. A turn's response is committed by
// handing a task to the worker and waiting for it, so commits apply in
// submission order no matter how the underlying model calls interleave:
//
//	sess, err := session.New(session.Options{State: state, RunTurn: agent.RunTurn})
//	defer sess.Close()
//
//	turn, err := sess.Send(ctx, "hello")
//	for ev, err := range turn.Events(ctx) { ... }
//	resp, err := turn.Response(ctx) // returns after the commit
//
// The next state is the previous transcript plus the request messages plus
// the response messages. Usage totals are summed field by field. An aborted
// turn additionally records its partial text (when no assistant message
// carries it) and an interruption marker user message.
//
// A failed turn never reaches the commit worker, so the state is untouched.
// A commit that fails validation returns its error and is not retried.
//
// # Hooks
//
// ApplyResponse may rewrite the computed next state before it becomes
// canonical. OnSnapshot receives a deep copy of every canonical state and
// runs on the commit worker, so persistence writes never race.
package session
