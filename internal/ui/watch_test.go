package ui

import (
	"testing"
	"time"

	"github.com/five82/printfarm/internal/cache"
	"github.com/five82/printfarm/internal/printer"
	"github.com/five82/printfarm/internal/views"
)

func TestWatcher_ForwardsViewChanges(t *testing.T) {
	store := cache.NewStore()
	w := newWatcher(views.New(store, nil), 4)
	w.Sync([]string{"p1"})

	tray := "PLA"
	store.Apply(cache.Write{Topic: cache.TopicFilament, ID: "p1", Value: printer.FilamentPayload{TrayType: &tray}})

	select {
	case id := <-w.updates:
		if id != "p1" {
			t.Fatalf("update id = %q, want p1", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update forwarded")
	}
}

func TestWatcher_SyncDropsRemovedPrinters(t *testing.T) {
	store := cache.NewStore()
	w := newWatcher(views.New(store, nil), 4)

	w.Sync([]string{"p1", "p2"})
	if got := store.Subscribers(cache.TopicStatus, "p2"); got != 1 {
		t.Fatalf("subscribers(p2) = %d, want 1", got)
	}

	// Re-syncing an unchanged id must not double subscribe.
	w.Sync([]string{"p1"})
	if got := store.Subscribers(cache.TopicStatus, "p1"); got != 1 {
		t.Fatalf("subscribers(p1) = %d, want 1", got)
	}
	for _, topic := range cache.Topics {
		if got := store.Subscribers(topic, "p2"); got != 0 {
			t.Fatalf("subscribers(%s, p2) = %d after removal, want 0", topic, got)
		}
	}

	w.Close()
	if got := w.Watching(); got != 0 {
		t.Fatalf("Watching() = %d after Close, want 0", got)
	}
}

func TestWatcher_FullBufferDoesNotBlock(t *testing.T) {
	store := cache.NewStore()
	w := newWatcher(views.New(store, nil), 1)
	w.Sync([]string{"p1"})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pct := float64(i)
			store.Apply(cache.Write{Topic: cache.TopicPercentage, ID: "p1", Value: printer.PercentagePayload{PrintPercentage: &pct}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("writes blocked on a full update buffer")
	}
	if len(w.updates) != 1 {
		t.Fatalf("buffered updates = %d, want 1", len(w.updates))
	}
}
