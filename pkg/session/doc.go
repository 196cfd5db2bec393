// Package session keeps the conversation history of each thread.
//
// Invariants:
// - Thread ids are non-empty; the file backend also requires them to be path-safe.
// - UpdateMessages replaces the whole history and keeps only the newest
//   MaxMessages entries when a limit is set.
// - Writes for the same thread are serialized.
//
// Usage:
//
//	store, _ := session.Open(session.Options{Backend: "file", Dir: "/tmp/agui/sessions"})
//	sess, _ := store.GetOrCreate(ctx, "thread-1")
//	_ = store.UpdateMessages(ctx, sess.ThreadID, input.Messages)
package session
