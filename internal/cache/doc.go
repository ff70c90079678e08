// Package cache provides the shared keyed store behind every printer view.
//
// # Overview
//
// Each entry is addressed by a (Topic, printer id) pair and holds the last
// value written for it together with the write time. The push dispatcher and
// the poll source both write here; the subscription views only read.
//
// # Update Semantics
//
//   - Last write wins per key. No history is kept and entries are never
//     evicted; cardinality is bounded by the printer roster.
//   - Apply writes a batch under one lock and only then notifies, so a
//     subscriber never observes half of an inbound frame.
//   - A Write with Unchanged set is skipped when the current value is
//     equivalent, and its subscribers are not notified.
//
// # Concurrency Model
//
// The store uses a readers-writer lock. Notifications go through one FIFO
// queue in write order, drained by whichever writer finds it idle, so
// concurrent push and poll writes reach every subscriber in the order they
// hit the cache. A writer may therefore return before another writer's
// goroutine has delivered its notifications. Callbacks run without the lock
// held: they may read the store, subscribe or write, but they should hand
// work off rather than block, since they hold up every later notification.
//
// Subscribe first replays the current value, if any, through the same queue,
// so a reader never misses a write that lands between Get and Subscribe.
//
//	store := cache.NewStore()
//	unsub := store.Subscribe(cache.TopicPercentage, "P1", func(e cache.Entry) {
//		program.Send(percentMsg(e))
//	})
//	defer unsub()
package cache
