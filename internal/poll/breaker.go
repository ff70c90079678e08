package poll

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/five82/printfarm/internal/farmapi"
	"github.com/five82/printfarm/internal/logging"
	"github.com/five82/printfarm/internal/metrics"
	"github.com/five82/printfarm/internal/printer"
)

// Endpoint families, one breaker each.
const (
	EndpointRoster   = "roster"
	EndpointStatus   = "status"
	EndpointFilament = "filament"
)

const (
	breakerTrip     = 5
	breakerInterval = time.Minute
	breakerTimeout  = 30 * time.Second
)

// guardedFetcher routes every request through a per-endpoint circuit breaker
// so an unreachable server is not hammered by every per-printer poller.
type guardedFetcher struct {
	inner    farmapi.Fetcher
	roster   *gobreaker.CircuitBreaker[[]printer.Summary]
	status   *gobreaker.CircuitBreaker[printer.StatusPayload]
	filament *gobreaker.CircuitBreaker[printer.FilamentPayload]
}

var _ farmapi.Fetcher = (*guardedFetcher)(nil)

func newGuardedFetcher(inner farmapi.Fetcher) *guardedFetcher {
	return &guardedFetcher{
		inner:    inner,
		roster:   newBreaker[[]printer.Summary](EndpointRoster),
		status:   newBreaker[printer.StatusPayload](EndpointStatus),
		filament: newBreaker[printer.FilamentPayload](EndpointFilament),
	}
}

func newBreaker[T any](name string) *gobreaker.CircuitBreaker[T] {
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= breakerTrip
			if trip {
				logging.Warn().Str("endpoint", name).Uint32("failures", counts.ConsecutiveFailures).Msg("poll breaker opening")
			}
			return trip
		},
		// The server answered: the printer is at fault, not the endpoint.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, farmapi.ErrPrinterReported) ||
				errors.Is(err, farmapi.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("endpoint", name).Str("from", from.String()).Str("to", to.String()).Msg("poll breaker state changed")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func record(endpoint string, err error) {
	switch {
	case err == nil:
		metrics.PollRequests.WithLabelValues(endpoint, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.PollRequests.WithLabelValues(endpoint, "rejected").Inc()
	default:
		metrics.PollRequests.WithLabelValues(endpoint, "failure").Inc()
	}
}

func (g *guardedFetcher) FetchPrinters(ctx context.Context) ([]printer.Summary, error) {
	out, err := g.roster.Execute(func() ([]printer.Summary, error) {
		return g.inner.FetchPrinters(ctx)
	})
	record(EndpointRoster, err)
	return out, err
}

func (g *guardedFetcher) FetchStatus(ctx context.Context, id string) (printer.StatusPayload, error) {
	out, err := g.status.Execute(func() (printer.StatusPayload, error) {
		return g.inner.FetchStatus(ctx, id)
	})
	record(EndpointStatus, err)
	return out, err
}

func (g *guardedFetcher) FetchFilament(ctx context.Context, id string) (printer.FilamentPayload, error) {
	out, err := g.filament.Execute(func() (printer.FilamentPayload, error) {
		return g.inner.FetchFilament(ctx, id)
	})
	record(EndpointFilament, err)
	return out, err
}
