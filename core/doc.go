// Package core implements the actor runtime for conductor.
//
// An Actor owns exactly one Mailbox, one Behavior and one goroutine. Actors
// never share state; they interact only by sending Messages, and a Behavior
// may, per message, send further messages, spawn actors or replace itself
// for the next message.
//
// Failures are not handled where they happen. A Behavior that returns an
// error (or panics) terminates its actor, and any actor monitoring it
// receives a Terminated system message carrying the reason. Recovery is the
// job of a supervising actor.
//
// The Registry resolves names to actors. It holds non-owning references and
// is passed explicitly to whoever needs it.
package core
