// Package actor hosts one session actor per signed-in reader.
//
// # Keys
//
// Actors are keyed by the normalized login (trimmed, lowercased), so
// "Alice" and "alice " share one actor and one persisted record.
//
// # Lifecycle
//
// An actor is created on first use. Its first invocation activates it: the
// persisted preferences are loaded and absent fields are filled from the
// caller's identity. Activation runs once per residency.
//
// Actors unused for the configured idle timeout are dropped from memory.
// Their state stays in the store and the next call activates a fresh actor.
//
// # Invocations
//
// Each invocation holds the actor's lock, runs the tool against the decoded
// preferences and writes the result back in one store transaction. A failed
// tool writes nothing. Every attempt is appended to the invocation log.
package actor
