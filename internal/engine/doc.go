// Package engine holds the ThingEngine registries: devices, installed apps
// and messaging feeds, persisted in SQLite.
//
// Single-writer loop:
// LoadOneDevice and LoadOneApp validate their input on the caller's
// goroutine and queue a job. Engine.Run dequeues jobs one at a time and
// writes them to the store, so registrations land in the order they were
// requested. Lookups, RemoveDevice and GetFeedWithContact do not go through
// the queue.
//
// Ordering:
// Every persisted row is stamped from a logical Clock. Lists are returned in
// clock order, and the clock resumes past the highest stored value on Open.
//
// Lifecycle:
//
//	e, _ := engine.New(path)
//	e.Open(ctx)  // load registries
//	e.Run(ctx)   // blocks until Stop or ctx is done
//	e.Close(ctx) // release the database
package engine
