package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/five82/printfarm/internal/printer"
)

// Snapshot is the latest roster and connection status shown to the UI.
type Snapshot struct {
	Printers            []printer.Summary
	HasRoster           bool
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int // Number of consecutive roster poll failures

	StreamState   string
	StreamChanged time.Time
}

// IsOffline returns true when the server has been unreachable for multiple polls.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Store coordinates concurrent updates to the snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// UpdateRoster replaces the roster. When err is non-nil the previous roster is
// kept but the error is recorded for visibility.
func (s *Store) UpdateRoster(printers []printer.Summary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.snapshot.LastError = err
		s.snapshot.LastUpdated = time.Now()
		s.snapshot.ConsecutiveFailures++
		return
	}

	s.snapshot.Printers = clonePrinters(printers)
	s.snapshot.HasRoster = true
	s.snapshot.LastError = nil
	s.snapshot.LastUpdated = time.Now()
	s.snapshot.ConsecutiveFailures = 0
}

// SetStreamState records the push connection state label.
func (s *Store) SetStreamState(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot.StreamState == label {
		return
	}
	s.snapshot.StreamState = label
	s.snapshot.StreamChanged = time.Now()
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Printers = clonePrinters(s.snapshot.Printers)
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}

func clonePrinters(items []printer.Summary) []printer.Summary {
	if len(items) == 0 {
		return nil
	}
	dup := make([]printer.Summary, len(items))
	copy(dup, items)
	return dup
}
