package dispatch

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/five82/printfarm/internal/cache"
	"github.com/five82/printfarm/internal/logging"
	"github.com/five82/printfarm/internal/metrics"
	"github.com/five82/printfarm/internal/printer"
)

// FramePrinterUpdate is the only frame type the dispatcher acts on.
const FramePrinterUpdate = "printer_update"

// Drop reasons reported in Result.Reason.
const (
	ReasonDecode    = "decode"
	ReasonType      = "type"
	ReasonPrinterID = "printer_id"
)

// Writer is the cache mutation the dispatcher needs.
type Writer interface {
	Apply(writes ...cache.Write) []cache.Key
}

var _ Writer = (*cache.Store)(nil)

// Result describes what one frame did.
type Result struct {
	Accepted  bool
	Reason    string
	PrinterID string
	Written   []cache.Key
}

// Dispatcher decodes push frames and merges them into the cache.
type Dispatcher struct {
	store Writer
}

// New returns a dispatcher writing into store.
func New(store Writer) *Dispatcher {
	return &Dispatcher{store: store}
}

// frame keeps optional fields raw so each one is type-checked on its own: a
// field of the wrong shape is skipped without discarding the rest.
type frame struct {
	Type            string          `json:"type"`
	PrinterID       string          `json:"printer_id"`
	Percentage      json.RawMessage `json:"percentage"`
	Status          json.RawMessage `json:"status"`
	TrayType        json.RawMessage `json:"tray_type"`
	TrayTypeChanged json.RawMessage `json:"tray_type_changed"`
}

// Dispatch applies one raw frame. It never fails: malformed or foreign frames
// are dropped and reported in the result only.
func (d *Dispatcher) Dispatch(raw []byte) Result {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return d.drop(ReasonDecode, "", err)
	}
	if f.Type != FramePrinterUpdate {
		return d.drop(ReasonType, f.PrinterID, nil)
	}
	if f.PrinterID == "" {
		return d.drop(ReasonPrinterID, "", nil)
	}

	writes := make([]cache.Write, 0, 4)
	if pct, ok := decodePercentage(f.Percentage); ok {
		writes = append(writes, cache.Write{
			Topic: cache.TopicPercentage,
			ID:    f.PrinterID,
			Value: printer.PercentagePayload{PrintPercentage: &pct},
		})
	}
	if status, ok := decodeStatus(f.Status); ok {
		writes = append(writes,
			cache.Write{Topic: cache.TopicStatus, ID: f.PrinterID, Value: status},
			cache.Write{Topic: cache.TopicPhase, ID: f.PrinterID, Value: printer.ProjectPhase(status)},
		)
	}
	changed := isTrue(f.TrayTypeChanged)
	if len(f.TrayType) > 0 || changed {
		next := decodeTray(f.TrayType)
		if printer.ShouldWriteTray(next, changed) {
			writes = append(writes, TrayWrite(f.PrinterID, printer.FilamentPayload{TrayType: next}))
		}
	}

	var written []cache.Key
	if len(writes) > 0 && d.store != nil {
		written = d.store.Apply(writes...)
	}
	for _, k := range written {
		metrics.CacheWrites.WithLabelValues(k.Topic.String(), "push").Inc()
	}
	return Result{Accepted: true, PrinterID: f.PrinterID, Written: written}
}

// TrayWrite builds a filament write that is skipped when the cached tray type
// already matches.
func TrayWrite(id string, next printer.FilamentPayload) cache.Write {
	return cache.Write{
		Topic: cache.TopicFilament,
		ID:    id,
		Value: next,
		Unchanged: func(prev any) bool {
			cur, ok := prev.(printer.FilamentPayload)
			return ok && cur.Equal(next)
		},
	}
}

func (d *Dispatcher) drop(reason, id string, err error) Result {
	metrics.FramesDropped.WithLabelValues(reason).Inc()
	ev := logging.Debug().Str("reason", reason)
	if id != "" {
		ev = ev.Str("printer", id)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("stream frame dropped")
	return Result{Reason: reason, PrinterID: id}
}

func decodePercentage(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func decodeStatus(raw json.RawMessage) (printer.StatusPayload, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return printer.StatusPayload{}, false
	}
	var s printer.StatusPayload
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return printer.StatusPayload{}, false
	}
	return s, true
}

// decodeTray returns nil for absent, null or non-string values.
func decodeTray(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func isTrue(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("true"))
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
