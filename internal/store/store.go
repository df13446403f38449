// Package store provides typed persistence for calls, rule versions, the
// score history ledger, and pivot prompts, with Postgres and SQLite
// backends.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callcoach/internal/model"
)

// ErrNotFound is returned when a referenced call or rule version does not
// exist.
var ErrNotFound = eris.New("store: not found")

// PartialWriteError reports that the atomic score-replace plus history
// append could not complete as a unit. The write is a full replacement, so
// callers may retry it idempotently.
type PartialWriteError struct {
	Err error
}

func (e *PartialWriteError) Error() string {
	return "store: atomic score write failed: " + e.Err.Error()
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// CallFilter specifies criteria for listing calls.
type CallFilter struct {
	FrameworkVersion string `json:"framework_version,omitempty"`
	MinTotal         int    `json:"min_total,omitempty"`
	MaxTotal         int    `json:"max_total,omitempty"` // 0 = no upper bound
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scoring core.
type Store interface {
	// Calls
	CreateCall(ctx context.Context, call *model.Call) error
	GetCall(ctx context.Context, id string) (*model.Call, error)
	ListCalls(ctx context.Context, filter CallFilter) ([]model.Call, error)

	// ReplaceScore updates the call's current score, version reference, and
	// framework label, and appends entry to the ledger when non-nil. The two
	// writes happen in one transaction: both commit or neither does.
	ReplaceScore(ctx context.Context, call *model.Call, entry *model.HistoryEntry) error

	// History ledger: append happens only inside ReplaceScore; entries are
	// never updated or deleted.
	ListHistory(ctx context.Context, callID string) ([]model.HistoryEntry, error)

	// Rule versions
	CreateRuleVersion(ctx context.Context, v *model.RuleVersion) error
	GetRuleVersion(ctx context.Context, id string) (*model.RuleVersion, error)
	ListRuleVersions(ctx context.Context) ([]model.RuleVersion, error)
	ActiveRuleVersion(ctx context.Context) (*model.RuleVersion, error)
	SetActiveRuleVersion(ctx context.Context, id string) error

	// Pivot prompts
	ListPivotPrompts(ctx context.Context, stepKey string) ([]string, error)
	SeedPivotPrompts(ctx context.Context, prompts map[string][]string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
