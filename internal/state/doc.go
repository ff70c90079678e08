// Package state holds the roster snapshot shared between the poll source and
// the UI.
//
// # Overview
//
// Per-printer payloads live in the cache package. This package keeps the
// fleet-level data that has no printer key: the last roster returned by
// /api/printers, roster poll failures, and the push connection state label.
//
//	Producers:                     Consumer (UI):
//	┌──────────────────────┐      ┌──────────────────┐
//	│ poll roster loop     │      │                  │
//	│   UpdateRoster()     │─────→│ store.Snapshot() │
//	│ stream state changes │      │       ↓          │
//	│   SetStreamState()   │─────→│  render cards    │
//	└──────────────────────┘      └──────────────────┘
//
// # Update Semantics
//
//	// Success: replace the roster, clear the error
//	store.UpdateRoster(printers, nil)
//
//	// Failure: keep the previous roster, record the error
//	store.UpdateRoster(nil, err)
//
// After two consecutive failures Snapshot.IsOffline reports true, which the UI
// shows as a server-unreachable banner.
//
// # Copying
//
// Snapshot returns the roster slice cloned and the error re-wrapped, so the
// caller can keep it across renders without holding the lock.
//
// The zero Store is ready to use:
//
//	store := &state.Store{}
package state
