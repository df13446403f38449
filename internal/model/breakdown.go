// Package model defines the core entities for call scoring: score
// breakdowns, calls, rule versions, and history entries.
package model

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// Credit levels a step can earn. These are the only legal values.
const (
	CreditNone    = 0.0
	CreditPartial = 0.5
	CreditFull    = 1.0
)

// Color classes derived from credit, consumed by detail views.
const (
	ColorFull    = "score-green"
	ColorPartial = "score-yellow"
	ColorNone    = "score-red"
)

// StepScore is the scoring outcome for one framework step.
type StepScore struct {
	StepKey    string  `json:"step_key"`
	Name       string  `json:"name,omitempty"`
	Credit     float64 `json:"credit"`
	Weight     int     `json:"weight"`
	Notes      string  `json:"notes"`
	ColorClass string  `json:"color_class"`
}

// ColorClassFor maps a credit level to its display color class.
func ColorClassFor(credit float64) string {
	switch {
	case credit >= CreditFull:
		return ColorFull
	case credit >= CreditPartial:
		return ColorPartial
	default:
		return ColorNone
	}
}

// ValidCredit reports whether credit is one of the three legal levels.
func ValidCredit(credit float64) bool {
	return credit == CreditNone || credit == CreditPartial || credit == CreditFull
}

// ScoreBreakdown is an ordered per-step scoring result plus the weighted total.
// Step order follows the framework order the breakdown was scored under.
type ScoreBreakdown struct {
	Steps []StepScore `json:"steps"`
	Total int         `json:"total"`
}

// ComputeTotal returns the rounded weighted sum of step credits.
func ComputeTotal(steps []StepScore) int {
	var sum float64
	for _, s := range steps {
		sum += s.Credit * float64(s.Weight)
	}
	return int(math.Round(sum))
}

// Recalculate recomputes Total and ColorClass from the step credits.
func (b *ScoreBreakdown) Recalculate() {
	for i := range b.Steps {
		b.Steps[i].ColorClass = ColorClassFor(b.Steps[i].Credit)
	}
	b.Total = ComputeTotal(b.Steps)
}

// Step returns the step score for the given key, or nil if absent.
func (b *ScoreBreakdown) Step(key string) *StepScore {
	for i := range b.Steps {
		if b.Steps[i].StepKey == key {
			return &b.Steps[i]
		}
	}
	return nil
}

// MaxTotal returns the sum of all step weights.
func (b *ScoreBreakdown) MaxTotal() int {
	var sum int
	for _, s := range b.Steps {
		sum += s.Weight
	}
	return sum
}

// Equal reports whether two breakdowns are structurally identical,
// including notes. Used to decide whether a rescore changed anything.
func (b *ScoreBreakdown) Equal(other *ScoreBreakdown) bool {
	if b == nil || other == nil {
		return b == other
	}
	if b.Total != other.Total || len(b.Steps) != len(other.Steps) {
		return false
	}
	for i := range b.Steps {
		a, o := b.Steps[i], other.Steps[i]
		if a.StepKey != o.StepKey || a.Credit != o.Credit || a.Weight != o.Weight || a.Notes != o.Notes {
			return false
		}
	}
	return true
}

// Validate checks the breakdown invariants: unique step keys, legal credit
// levels, positive weights, and a total that matches the weighted sum.
func (b *ScoreBreakdown) Validate() error {
	seen := make(map[string]bool, len(b.Steps))
	for _, s := range b.Steps {
		if s.StepKey == "" {
			return eris.New("breakdown: step with empty key")
		}
		if seen[s.StepKey] {
			return eris.Errorf("breakdown: duplicate step key %q", s.StepKey)
		}
		seen[s.StepKey] = true
		if !ValidCredit(s.Credit) {
			return eris.Errorf("breakdown: step %q has credit %v, want 0, 0.5 or 1", s.StepKey, s.Credit)
		}
		if s.Weight <= 0 {
			return eris.Errorf("breakdown: step %q has weight %d, want > 0", s.StepKey, s.Weight)
		}
	}
	if want := ComputeTotal(b.Steps); b.Total != want {
		return eris.Errorf("breakdown: total %d does not match weighted sum %d", b.Total, want)
	}
	return nil
}

// stepEntry is the persisted per-step value: breakdowns serialize as an
// object keyed by step key plus a sibling "total" field.
type stepEntry struct {
	Credit float64 `json:"credit"`
	Weight int     `json:"weight"`
	Notes  string  `json:"notes"`
	Name   string  `json:"name,omitempty"`
}

// MarshalJSON writes the breakdown as a keyed object in step order with a
// trailing "total" field.
func (b ScoreBreakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, s := range b.Steps {
		key, err := json.Marshal(s.StepKey)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(stepEntry{
			Credit: s.Credit,
			Weight: s.Weight,
			Notes:  s.Notes,
			Name:   s.Name,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
		buf.WriteByte(',')
	}
	buf.WriteString(`"total":`)
	total, err := json.Marshal(b.Total)
	if err != nil {
		return nil, err
	}
	buf.Write(total)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the keyed-object form, preserving key order. Missing
// fields default to zero credit so pre-versioning records stay readable.
func (b *ScoreBreakdown) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "breakdown: decode")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.New("breakdown: expected JSON object")
	}

	b.Steps = nil
	b.Total = 0
	var haveTotal bool

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "breakdown: decode key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return eris.New("breakdown: non-string key")
		}

		if key == "total" {
			if err := dec.Decode(&b.Total); err != nil {
				return eris.Wrap(err, "breakdown: decode total")
			}
			haveTotal = true
			continue
		}

		var entry stepEntry
		if err := dec.Decode(&entry); err != nil {
			return eris.Wrapf(err, "breakdown: decode step %s", key)
		}
		b.Steps = append(b.Steps, StepScore{
			StepKey:    key,
			Name:       entry.Name,
			Credit:     entry.Credit,
			Weight:     entry.Weight,
			Notes:      entry.Notes,
			ColorClass: ColorClassFor(entry.Credit),
		})
	}

	if !haveTotal {
		b.Total = ComputeTotal(b.Steps)
	}
	return nil
}
