package printer

import (
	"bytes"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

// StatusPayload mirrors the full printer status object carried by push frames
// and returned by /api/printers/{id}/status.
type StatusPayload struct {
	BedTemperature    *float64
	NozzleTemperature NozzleTemperature
	PrintStatus       *string
	PrintPhase        *string
	PrintErrorCode    *int
	HasError          bool
}

type statusWire struct {
	BedTemperature     *float64          `json:"bed_temperature"`
	NozzleTemperature  NozzleTemperature `json:"nozzle_temperature"`
	NozzleTemperatures NozzleTemperature `json:"nozzle_temperatures"`
	PrintStatus        *string           `json:"print_status"`
	PrintPhase         *string           `json:"print_phase"`
	PrintErrorCode     *float64          `json:"print_error_code"`
	HasError           *bool             `json:"has_error"`
}

// UnmarshalJSON decodes the wire status. When has_error is absent the flag is
// derived from print_error_code.
func (s *StatusPayload) UnmarshalJSON(data []byte) error {
	var wire statusWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	nozzle := wire.NozzleTemperature
	if !nozzle.Known() {
		nozzle = wire.NozzleTemperatures
	}
	code := integralCode(wire.PrintErrorCode)
	hasError := DeriveHasError(wire.HasError, code)
	if wire.HasError == nil && code == nil && wire.PrintErrorCode != nil {
		// A fractional code has no integer form but is still non-zero.
		hasError = *wire.PrintErrorCode != 0
	}
	*s = StatusPayload{
		BedTemperature:    wire.BedTemperature,
		NozzleTemperature: nozzle,
		PrintStatus:       wire.PrintStatus,
		PrintPhase:        wire.PrintPhase,
		PrintErrorCode:    code,
		HasError:          hasError,
	}
	return nil
}

// integralCode converts a JSON number such as 5 or 5.0 to an int. Fractional
// or out of range values yield nil.
func integralCode(v *float64) *int {
	if v == nil || *v != math.Trunc(*v) || math.Abs(*v) > math.MaxInt32 {
		return nil
	}
	code := int(*v)
	return &code
}

// StatusLabel returns the print status, or "unknown" when none was reported.
func (s StatusPayload) StatusLabel() string {
	if s.PrintStatus == nil || strings.TrimSpace(*s.PrintStatus) == "" {
		return "unknown"
	}
	return *s.PrintStatus
}

// NozzleTemperature accepts the shapes printers report for the hotend: a bare
// number, an array whose first element is the active nozzle, or an object
// with "current" (or "nozzle") and optional "target".
type NozzleTemperature struct {
	Current *float64
	Target  *float64
}

// Known reports whether a current temperature was decoded.
func (n NozzleTemperature) Known() bool {
	return n.Current != nil
}

// Value returns the current nozzle temperature.
func (n NozzleTemperature) Value() (float64, bool) {
	if n.Current == nil {
		return 0, false
	}
	return *n.Current, true
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NozzleTemperature) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*n = NozzleTemperature{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '[':
		var values []*float64
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return err
		}
		if len(values) > 0 {
			n.Current = values[0]
		}
		return nil
	case '{':
		var obj struct {
			Current *float64 `json:"current"`
			Nozzle  *float64 `json:"nozzle"`
			Target  *float64 `json:"target"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		n.Current = obj.Current
		if n.Current == nil {
			n.Current = obj.Nozzle
		}
		n.Target = obj.Target
		return nil
	default:
		var v float64
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		n.Current = &v
		return nil
	}
}

// PercentagePayload carries the print progress of the active job.
type PercentagePayload struct {
	PrintPercentage *float64
}

// FilamentPayload carries the loaded tray type (PLA, PETG, ...).
type FilamentPayload struct {
	TrayType *string
}

// Equal compares tray types by value; two nulls are equal.
func (f FilamentPayload) Equal(other FilamentPayload) bool {
	switch {
	case f.TrayType == nil && other.TrayType == nil:
		return true
	case f.TrayType == nil || other.TrayType == nil:
		return false
	default:
		return *f.TrayType == *other.TrayType
	}
}

// PhasePayload is the phase/error projection of a status.
type PhasePayload struct {
	PrintPhase     *string
	PrintErrorCode *int
	HasError       bool
}

// ProjectPhase derives the phase view of a status. The phase falls back to
// the print status when the printer reports no explicit phase.
func ProjectPhase(s StatusPayload) PhasePayload {
	phase := s.PrintPhase
	if phase == nil {
		phase = s.PrintStatus
	}
	return PhasePayload{
		PrintPhase:     phase,
		PrintErrorCode: s.PrintErrorCode,
		HasError:       s.HasError,
	}
}

// DeriveHasError prefers an explicitly reported flag and otherwise treats any
// non-zero error code as an error.
func DeriveHasError(reported *bool, code *int) bool {
	if reported != nil {
		return *reported
	}
	return code != nil && *code != 0
}

// ShouldWriteTray reports whether an inbound tray type may replace the cached
// one. Empty or missing values only clear a known tray when the sender flags
// the change explicitly.
func ShouldWriteTray(next *string, changed bool) bool {
	hasNext := next != nil && strings.TrimSpace(*next) != ""
	return hasNext || changed
}

// Summary is one roster entry returned by /api/printers.
type Summary struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}
