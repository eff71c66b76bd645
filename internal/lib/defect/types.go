// Package defect holds the road defect record reported by the defect lookup service
package defect

import (
	"fmt"
	"strings"

	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

// Severity is the ordered risk tier of a reported defect
type Severity int

const (
	SeverityUnspecified Severity = iota
	Low
	Medium
	High
)

// Severities lists every valid tier in ascending risk order
var Severities = []Severity{Low, Medium, High}

// ErrInvalidSeverity reports a severity outside the closed enumeration
type ErrInvalidSeverity struct {
	Value string
}

func (e *ErrInvalidSeverity) Error() string {
	return fmt.Sprintf("invalid severity %q", e.Value)
}

// ParseSeverity maps the wire value to a Severity. Matching ignores case and
// surrounding whitespace; anything else is rejected.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	default:
		return SeverityUnspecified, &ErrInvalidSeverity{Value: s}
	}
}

func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unspecified"
	}
}

// Valid reports whether s is one of the three defined tiers
func (s Severity) Valid() bool {
	return s >= Low && s <= High
}

// MarshalText writes the wire name so severities can key JSON maps
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &ErrInvalidSeverity{Value: s.String()}
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts the wire name
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// HeatWeight is the intensity a defect contributes to the heat layer
func (s Severity) HeatWeight() float64 {
	switch s {
	case High:
		return 1.0
	case Medium:
		return 0.6
	default:
		return 0.3
	}
}

// MarkerColor is the circle marker colour used on the navigator map
func (s Severity) MarkerColor() string {
	switch s {
	case High:
		return "red"
	case Medium:
		return "orange"
	default:
		return "yellow"
	}
}

// Record is one reported road defect. Records are values and never mutated
// after parsing.
type Record struct {
	Position geo.Point `json:"position"`
	Severity Severity  `json:"severity"`
}

// WireRecord is the JSON shape returned by the defect lookup service
type WireRecord struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Severity string  `json:"severity"`
}

// ToRecord validates a wire record
func (w WireRecord) ToRecord() (Record, error) {
	severity, err := ParseSeverity(w.Severity)
	if err != nil {
		return Record{}, err
	}
	position, err := geo.NewPoint(w.Lat, w.Lng)
	if err != nil {
		return Record{}, err
	}
	return Record{Position: position, Severity: severity}, nil
}

// Rejection describes a wire record excluded from a batch
type Rejection struct {
	Index  int        `json:"index"`
	Record WireRecord `json:"record"`
	Reason string     `json:"reason"`
}

// FromWire converts a batch, excluding individual records that fail
// validation rather than failing the batch.
func FromWire(wire []WireRecord) ([]Record, []Rejection) {
	records := make([]Record, 0, len(wire))
	var rejected []Rejection
	for i, w := range wire {
		record, err := w.ToRecord()
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Record: w, Reason: err.Error()})
			continue
		}
		records = append(records, record)
	}
	return records, rejected
}
