package poll

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/five82/printfarm/internal/cache"
	"github.com/five82/printfarm/internal/dispatch"
	"github.com/five82/printfarm/internal/farmapi"
	"github.com/five82/printfarm/internal/logging"
	"github.com/five82/printfarm/internal/metrics"
	"github.com/five82/printfarm/internal/printer"
	"github.com/five82/printfarm/internal/state"
	"github.com/five82/printfarm/internal/views"
)

const (
	DefaultStatusInterval   = 5 * time.Second
	DefaultRosterInterval   = 10 * time.Second
	DefaultFilamentInterval = 30 * time.Second

	// maxBackoff caps the roster interval while the server is unreachable.
	maxBackoff = time.Minute
)

// Writer is the cache mutation the poll source needs.
type Writer interface {
	Apply(writes ...cache.Write) []cache.Key
}

// Options configures a Source. Zero intervals use the defaults.
type Options struct {
	StatusInterval   time.Duration
	RosterInterval   time.Duration
	FilamentInterval time.Duration
}

// Source polls the REST endpoints and merges results into the cache. Failures
// are kept per (topic, printer) and never written to the cache.
type Source struct {
	fetch  farmapi.Fetcher
	store  Writer
	roster *state.Store
	opts   Options

	mu      sync.Mutex
	errs    map[cache.Key]error
	pollers map[string]context.CancelFunc
	wg      sync.WaitGroup
}

var _ views.ErrorSource = (*Source)(nil)

// New returns a Source. roster may be nil when nothing displays it.
func New(fetcher farmapi.Fetcher, store Writer, roster *state.Store, opts Options) *Source {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.RosterInterval <= 0 {
		opts.RosterInterval = DefaultRosterInterval
	}
	if opts.FilamentInterval <= 0 {
		opts.FilamentInterval = DefaultFilamentInterval
	}
	return &Source{
		fetch:   newGuardedFetcher(fetcher),
		store:   store,
		roster:  roster,
		opts:    opts,
		errs:    make(map[cache.Key]error),
		pollers: make(map[string]context.CancelFunc),
	}
}

// Run polls the roster until ctx is cancelled, starting a status and a
// filament poller for each listed printer and stopping them when the printer
// leaves the roster. It returns after every poller has exited.
func (s *Source) Run(ctx context.Context) {
	defer s.stopAll()

	failures := 0
	for {
		printers, err := s.RefreshRoster(ctx)
		if err == nil {
			failures = 0
			s.sync(ctx, printers)
		} else {
			failures++
		}

		timer := time.NewTimer(calculateBackoff(failures, s.opts.RosterInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// calculateBackoff doubles the interval per consecutive failure, capped at
// maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// RefreshRoster fetches the roster once and records the result.
func (s *Source) RefreshRoster(ctx context.Context) ([]printer.Summary, error) {
	printers, err := s.fetch.FetchPrinters(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if s.roster != nil {
			s.roster.UpdateRoster(nil, err)
		}
		logging.Warn().Err(err).Msg("roster poll failed")
		return nil, err
	}
	if s.roster != nil {
		s.roster.UpdateRoster(printers, nil)
	}
	metrics.RosterSize.Set(float64(len(printers)))
	return printers, nil
}

// RefreshStatus fetches one printer's status and writes it with its phase
// projection.
func (s *Source) RefreshStatus(ctx context.Context, id string) error {
	status, err := s.fetch.FetchStatus(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			s.setErr(cache.TopicStatus, id, err)
		}
		return err
	}
	s.setErr(cache.TopicStatus, id, nil)
	s.apply(
		cache.Write{Topic: cache.TopicStatus, ID: id, Value: status},
		cache.Write{Topic: cache.TopicPhase, ID: id, Value: printer.ProjectPhase(status)},
	)
	return nil
}

// RefreshFilament fetches one printer's tray. A blank or missing tray type
// leaves the cached value alone.
func (s *Source) RefreshFilament(ctx context.Context, id string) error {
	filament, err := s.fetch.FetchFilament(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			s.setErr(cache.TopicFilament, id, err)
		}
		return err
	}
	s.setErr(cache.TopicFilament, id, nil)
	if printer.ShouldWriteTray(filament.TrayType, false) {
		s.apply(dispatch.TrayWrite(id, filament))
	}
	return nil
}

// LastError returns the most recent poll failure for (topic, id), or nil once
// a later poll succeeded.
func (s *Source) LastError(topic cache.Topic, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[cache.Key{Topic: topic, ID: id}]
}

// Active returns the printers that currently have pollers, sorted.
func (s *Source) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Source) apply(writes ...cache.Write) {
	if s.store == nil {
		return
	}
	for _, k := range s.store.Apply(writes...) {
		metrics.CacheWrites.WithLabelValues(k.Topic.String(), "poll").Inc()
	}
}

func (s *Source) setErr(topic cache.Topic, id string, err error) {
	key := cache.Key{Topic: topic, ID: id}
	s.mu.Lock()
	prev := s.errs[key]
	if err == nil {
		delete(s.errs, key)
	} else {
		s.errs[key] = err
	}
	s.mu.Unlock()

	switch {
	case err != nil && prev == nil:
		logging.Warn().Err(err).Str("printer", id).Str("topic", topic.String()).Msg("poll failed")
	case err != nil:
		logging.Debug().Err(err).Str("printer", id).Str("topic", topic.String()).Msg("poll still failing")
	case prev != nil:
		logging.Info().Str("printer", id).Str("topic", topic.String()).Msg("poll recovered")
	}
}

// sync starts pollers for new printers and stops those no longer listed.
func (s *Source) sync(ctx context.Context, printers []printer.Summary) {
	want := make(map[string]struct{}, len(printers))
	for _, p := range printers {
		if p.ID != "" {
			want[p.ID] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.pollers {
		if _, ok := want[id]; !ok {
			cancel()
			delete(s.pollers, id)
			logging.Info().Str("printer", id).Msg("printer left roster; pollers stopped")
		}
	}
	for id := range want {
		if _, ok := s.pollers[id]; ok {
			continue
		}
		pctx, cancel := context.WithCancel(ctx)
		s.pollers[id] = cancel
		s.wg.Add(2)
		go s.loop(pctx, id, s.opts.StatusInterval, s.RefreshStatus)
		go s.loop(pctx, id, s.opts.FilamentInterval, s.RefreshFilament)
		logging.Info().Str("printer", id).Msg("printer joined roster; pollers started")
	}
}

func (s *Source) loop(ctx context.Context, id string, interval time.Duration, refresh func(context.Context, string) error) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := refresh(ctx, id); errors.Is(err, context.Canceled) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Source) stopAll() {
	s.mu.Lock()
	for id, cancel := range s.pollers {
		cancel()
		delete(s.pollers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
