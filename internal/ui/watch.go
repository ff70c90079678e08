package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/printfarm/internal/printer"
	"github.com/five82/printfarm/internal/views"
)

// watcher subscribes to the four views of every listed printer and turns
// each change into a printer id on updates. Sends never block: cache
// callbacks run on the writer's goroutine, and a full buffer already
// guarantees a redraw is pending.
type watcher struct {
	views   views.Set
	updates chan string

	mu   sync.Mutex
	subs map[string][]func()
}

func newWatcher(v views.Set, buffer int) *watcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &watcher{
		views:   v,
		updates: make(chan string, buffer),
		subs:    make(map[string][]func()),
	}
}

// Sync subscribes newly listed printers and drops printers that left the
// roster.
func (w *watcher) Sync(ids []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
		if _, ok := w.subs[id]; ok {
			continue
		}
		w.subs[id] = w.subscribe(id)
	}
	for id, cancels := range w.subs {
		if _, ok := keep[id]; ok {
			continue
		}
		for _, cancel := range cancels {
			cancel()
		}
		delete(w.subs, id)
	}
}

func (w *watcher) subscribe(id string) []func() {
	notify := func() { w.notify(id) }
	return []func(){
		w.views.Percentage.Subscribe(id, func(printer.PercentagePayload) { notify() }),
		w.views.Status.Subscribe(id, func(printer.StatusPayload) { notify() }),
		w.views.Filament.Subscribe(id, func(printer.FilamentPayload) { notify() }),
		w.views.Phase.Subscribe(id, func(printer.PhasePayload) { notify() }),
	}
}

// Watching returns the number of printers with live subscriptions.
func (w *watcher) Watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Close releases every subscription.
func (w *watcher) Close() {
	w.Sync(nil)
}

func (w *watcher) notify(id string) {
	select {
	case w.updates <- id:
	default:
	}
}

type printerUpdatedMsg string

// waitForUpdate blocks until a subscribed view changes.
func waitForUpdate(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		id, ok := <-ch
		if !ok {
			return nil
		}
		return printerUpdatedMsg(id)
	}
}
