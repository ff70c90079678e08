package poll

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/five82/printfarm/internal/cache"
	"github.com/five82/printfarm/internal/farmapi"
	"github.com/five82/printfarm/internal/printer"
	"github.com/five82/printfarm/internal/state"
	"github.com/five82/printfarm/internal/views"
)

type fakeFetcher struct {
	mu          sync.Mutex
	roster      []printer.Summary
	rosterErr   error
	status      map[string]printer.StatusPayload
	statusErr   error
	filament    map[string]printer.FilamentPayload
	statusCalls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		status:      make(map[string]printer.StatusPayload),
		filament:    make(map[string]printer.FilamentPayload),
		statusCalls: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchPrinters(context.Context) ([]printer.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}
	return append([]printer.Summary(nil), f.roster...), nil
}

func (f *fakeFetcher) FetchStatus(_ context.Context, id string) (printer.StatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[id]++
	if f.statusErr != nil {
		return printer.StatusPayload{}, f.statusErr
	}
	return f.status[id], nil
}

func (f *fakeFetcher) FetchFilament(_ context.Context, id string) (printer.FilamentPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filament[id], nil
}

func (f *fakeFetcher) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[id]
}

func (f *fakeFetcher) setRoster(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roster = nil
	for _, id := range ids {
		f.roster = append(f.roster, printer.Summary{ID: id, Type: "BambuPrinter"})
	}
}

func strPtr(s string) *string { return &s }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRefreshStatus_WritesStatusAndPhase(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.status["P1"] = printer.StatusPayload{PrintStatus: strPtr("RUNNING"), PrintPhase: strPtr("heating")}
	store := cache.NewStore()
	src := New(fetch, store, nil, Options{})
	v := views.New(store, src)

	if err := src.RefreshStatus(context.Background(), "P1"); err != nil {
		t.Fatalf("RefreshStatus returned error: %v", err)
	}
	status, ok := v.Status.Get("P1")
	if !ok || status.StatusLabel() != "RUNNING" {
		t.Fatalf("Status view = %+v (ok=%v), want RUNNING", status, ok)
	}
	phase, ok := v.Phase.Get("P1")
	if !ok || *phase.PrintPhase != "heating" {
		t.Fatalf("Phase view = %+v (ok=%v), want heating", phase, ok)
	}
	if err := v.Status.Err("P1"); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
}

func TestRefreshStatus_FailureRecordedNotCached(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.status["P1"] = printer.StatusPayload{PrintStatus: strPtr("IDLE")}
	store := cache.NewStore()
	src := New(fetch, store, nil, Options{})
	v := views.New(store, src)

	if err := src.RefreshStatus(context.Background(), "P1"); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	fetch.statusErr = fmt.Errorf("api: %w: mqtt down", farmapi.ErrPrinterReported)
	if err := src.RefreshStatus(context.Background(), "P1"); err == nil {
		t.Fatalf("RefreshStatus returned nil, want error")
	}
	if err := v.Status.Err("P1"); !errors.Is(err, farmapi.ErrPrinterReported) {
		t.Fatalf("Err = %v, want reported printer error", err)
	}
	if status, _ := v.Status.Get("P1"); status.StatusLabel() != "IDLE" {
		t.Fatalf("cached status = %q, want previous IDLE kept", status.StatusLabel())
	}

	fetch.statusErr = nil
	if err := src.RefreshStatus(context.Background(), "P1"); err != nil {
		t.Fatalf("recovery refresh: %v", err)
	}
	if err := v.Status.Err("P1"); err != nil {
		t.Fatalf("Err after recovery = %v, want nil", err)
	}
}

func TestRefreshFilament_NonBlankRule(t *testing.T) {
	tests := []struct {
		name  string
		prior *string
		next  *string
		want  *string
	}{
		{"first value", nil, strPtr("PLA"), strPtr("PLA")},
		{"replace", strPtr("PETG"), strPtr("PLA"), strPtr("PLA")},
		{"blank keeps prior", strPtr("PETG"), strPtr(" "), strPtr("PETG")},
		{"null keeps prior", strPtr("PETG"), nil, strPtr("PETG")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch := newFakeFetcher()
			fetch.filament["P1"] = printer.FilamentPayload{TrayType: tt.next}
			store := cache.NewStore()
			if tt.prior != nil {
				store.Set(cache.TopicFilament, "P1", printer.FilamentPayload{TrayType: tt.prior})
			}
			src := New(fetch, store, nil, Options{})

			if err := src.RefreshFilament(context.Background(), "P1"); err != nil {
				t.Fatalf("RefreshFilament returned error: %v", err)
			}
			got, ok := views.New(store, nil).Filament.Get("P1")
			if !ok || !got.Equal(printer.FilamentPayload{TrayType: tt.want}) {
				t.Fatalf("Filament view = %+v (ok=%v), want %v", got, ok, *tt.want)
			}
		})
	}
}

func TestRefreshFilament_BlankWithoutPriorStaysUnknown(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.filament["P1"] = printer.FilamentPayload{TrayType: strPtr("")}
	store := cache.NewStore()
	src := New(fetch, store, nil, Options{})

	if err := src.RefreshFilament(context.Background(), "P1"); err != nil {
		t.Fatalf("RefreshFilament returned error: %v", err)
	}
	if _, ok := views.New(store, nil).Filament.Get("P1"); ok {
		t.Fatalf("blank tray type created a cache entry")
	}
}

func TestRefreshRoster_RecordsState(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.setRoster("P1", "P2")
	roster := &state.Store{}
	src := New(fetch, cache.NewStore(), roster, Options{})

	if _, err := src.RefreshRoster(context.Background()); err != nil {
		t.Fatalf("RefreshRoster returned error: %v", err)
	}
	if snap := roster.Snapshot(); len(snap.Printers) != 2 {
		t.Fatalf("roster = %#v, want 2 printers", snap.Printers)
	}

	fetch.rosterErr = errors.New("connection refused")
	if _, err := src.RefreshRoster(context.Background()); err == nil {
		t.Fatalf("RefreshRoster returned nil, want error")
	}
	snap := roster.Snapshot()
	if len(snap.Printers) != 2 || snap.LastError == nil || snap.ConsecutiveFailures != 1 {
		t.Fatalf("snapshot = %#v, want previous roster with recorded error", snap)
	}
}

func TestRun_StartsAndStopsPerPrinterPollers(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.setRoster("P1", "P2")
	src := New(fetch, cache.NewStore(), &state.Store{}, Options{
		StatusInterval:   10 * time.Millisecond,
		RosterInterval:   10 * time.Millisecond,
		FilamentInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	waitFor(t, "both pollers", func() bool {
		return reflect.DeepEqual(src.Active(), []string{"P1", "P2"})
	})
	waitFor(t, "P1 polled", func() bool { return fetch.calls("P1") > 0 })

	fetch.setRoster("P2")
	waitFor(t, "P1 stopped", func() bool {
		return reflect.DeepEqual(src.Active(), []string{"P2"})
	})
	stopped := fetch.calls("P1")
	time.Sleep(50 * time.Millisecond)
	if got := fetch.calls("P1"); got > stopped+1 {
		t.Fatalf("P1 polled %d more times after leaving the roster", got-stopped)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if active := src.Active(); len(active) != 0 {
		t.Fatalf("Active = %v after Run returned, want none", active)
	}
}

func TestBreaker_OpensOnServerFailures(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.statusErr = errors.New("execute request: connection refused")
	src := New(fetch, cache.NewStore(), nil, Options{})

	for i := 0; i < breakerTrip; i++ {
		_ = src.RefreshStatus(context.Background(), "P1")
	}
	err := src.RefreshStatus(context.Background(), "P1")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want open breaker", err)
	}
	if got := fetch.calls("P1"); got != breakerTrip {
		t.Fatalf("fetcher called %d times, want %d", got, breakerTrip)
	}
	if !errors.Is(src.LastError(cache.TopicStatus, "P1"), gobreaker.ErrOpenState) {
		t.Fatalf("LastError = %v, want open breaker", src.LastError(cache.TopicStatus, "P1"))
	}
}

func TestBreaker_IgnoresPrinterReportedErrors(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.statusErr = fmt.Errorf("api: %w: offline", farmapi.ErrPrinterReported)
	src := New(fetch, cache.NewStore(), nil, Options{})

	for i := 0; i < 2*breakerTrip; i++ {
		_ = src.RefreshStatus(context.Background(), "P1")
	}
	if got := fetch.calls("P1"); got != 2*breakerTrip {
		t.Fatalf("fetcher called %d times, want %d", got, 2*breakerTrip)
	}
}

func TestCalculateBackoff(t *testing.T) {
	base := 10 * time.Second

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{"zero failures", 0, 10 * time.Second},
		{"negative failures", -1, 10 * time.Second},
		{"one failure", 1, 20 * time.Second},
		{"two failures", 2, 40 * time.Second},
		{"three failures capped", 3, time.Minute}, // Would be 80s
		{"many failures capped", 10, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateBackoff(tt.failures, base)
			if got != tt.want {
				t.Errorf("calculateBackoff(%d, %v) = %v, want %v", tt.failures, base, got, tt.want)
			}
		})
	}
}
