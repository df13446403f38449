package model

import "time"

// Call is a submitted sales call with its current score. RuleVersionID and
// FrameworkVersion are nil for calls scored before versioning existed; such
// records must still render a valid breakdown.
type Call struct {
	ID               string         `json:"id"`
	Rep              string         `json:"rep,omitempty"`
	Transcript       string         `json:"transcript"`
	Breakdown        ScoreBreakdown `json:"breakdown"`
	Total            int            `json:"total"`
	RuleVersionID    *string        `json:"rule_version_id,omitempty"`
	FrameworkVersion *string        `json:"framework_version,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// RuleVersion is a named configuration of the scoring heuristics. At most
// one version is active at a time; inactive versions remain selectable for
// rescoring and stay referenced by historical scores.
type RuleVersion struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Label            string    `json:"label"`
	FrameworkVersion string    `json:"framework_version"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// HistoryEntry is an immutable audit record of a score once attached to a
// call. Written exactly once per rescore that changed the breakdown under a
// known rule version; never updated or deleted.
type HistoryEntry struct {
	ID               string         `json:"id"`
	CallID           string         `json:"call_id"`
	RuleVersionID    string         `json:"rule_version_id"`
	FrameworkVersion string         `json:"framework_version"`
	Total            int            `json:"total"`
	Breakdown        ScoreBreakdown `json:"breakdown"`
	CreatedAt        time.Time      `json:"created_at"`
}
