// Package views exposes typed read-only slices of the printer cache.
package views

import (
	"github.com/five82/printfarm/internal/cache"
	"github.com/five82/printfarm/internal/printer"
)

// Source is the read side of the cache the views depend on.
type Source interface {
	Get(topic cache.Topic, id string) (cache.Entry, bool)
	Subscribe(topic cache.Topic, id string, fn func(cache.Entry)) func()
}

// ErrorSource reports the most recent fetch failure for a key, if any.
type ErrorSource interface {
	LastError(topic cache.Topic, id string) error
}

var _ Source = (*cache.Store)(nil)

type view[T any] struct {
	src   Source
	topic cache.Topic
}

// Get returns the cached payload. ok is false when nothing is known yet or
// the entry holds a value of another type.
func (v view[T]) Get(id string) (T, bool) {
	var zero T
	if v.src == nil {
		return zero, false
	}
	e, found := v.src.Get(v.topic, id)
	if !found {
		return zero, false
	}
	payload, ok := e.Value.(T)
	return payload, ok
}

// Entry returns the raw entry, including its write time.
func (v view[T]) Entry(id string) (cache.Entry, bool) {
	if v.src == nil {
		return cache.Entry{}, false
	}
	return v.src.Get(v.topic, id)
}

// Subscribe calls fn with the current payload for id, if any, and then with
// each later write, in write order.
func (v view[T]) Subscribe(id string, fn func(T)) func() {
	if v.src == nil {
		return func() {}
	}
	return v.src.Subscribe(v.topic, id, func(e cache.Entry) {
		if payload, ok := e.Value.(T); ok {
			fn(payload)
		}
	})
}

// PercentageView exposes print progress only.
type PercentageView struct{ view[printer.PercentagePayload] }

// FilamentView exposes the loaded tray type plus the last poll failure.
type FilamentView struct {
	view[printer.FilamentPayload]
	errs ErrorSource
}

// Err returns the most recent filament fetch error for id.
func (v FilamentView) Err(id string) error {
	if v.errs == nil {
		return nil
	}
	return v.errs.LastError(cache.TopicFilament, id)
}

// PhaseView exposes the print phase and error state.
type PhaseView struct{ view[printer.PhasePayload] }

// StatusView exposes the full status plus the last poll failure.
type StatusView struct {
	view[printer.StatusPayload]
	errs ErrorSource
}

// Err returns the most recent status fetch error for id. Poll failures are
// reported here and never written into the cache.
func (v StatusView) Err(id string) error {
	if v.errs == nil {
		return nil
	}
	return v.errs.LastError(cache.TopicStatus, id)
}

// Set bundles the four views over one cache.
type Set struct {
	Percentage PercentageView
	Status     StatusView
	Filament   FilamentView
	Phase      PhaseView
}

// New builds the views over src. errs may be nil.
func New(src Source, errs ErrorSource) Set {
	return Set{
		Percentage: PercentageView{view[printer.PercentagePayload]{src: src, topic: cache.TopicPercentage}},
		Status: StatusView{
			view: view[printer.StatusPayload]{src: src, topic: cache.TopicStatus},
			errs: errs,
		},
		Filament: FilamentView{
			view: view[printer.FilamentPayload]{src: src, topic: cache.TopicFilament},
			errs: errs,
		},
		Phase:    PhaseView{view[printer.PhasePayload]{src: src, topic: cache.TopicPhase}},
	}
}
