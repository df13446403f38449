// Package rescore re-runs the transcript scorer for a call under a chosen
// rule version, replacing the call's current score and recording an audit
// entry when the score changed.
package rescore

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callcoach/internal/model"
	"github.com/sells-group/callcoach/internal/scorer"
	"github.com/sells-group/callcoach/internal/store"
)

// UnknownCallError reports a rescore request for a call that does not exist.
type UnknownCallError struct {
	CallID string
}

func (e *UnknownCallError) Error() string {
	return "rescore: unknown call " + e.CallID
}

// UnknownRuleVersionError reports a rescore request naming a rule version
// that does not exist.
type UnknownRuleVersionError struct {
	VersionID string
}

func (e *UnknownRuleVersionError) Error() string {
	return "rescore: unknown rule version " + e.VersionID
}

// ScoringFailedError wraps a scorer failure during a rescore attempt. The
// call's previous score is left untouched.
type ScoringFailedError struct {
	CallID string
	Err    error
}

func (e *ScoringFailedError) Error() string {
	return "rescore: scoring failed for call " + e.CallID + ": " + e.Err.Error()
}

func (e *ScoringFailedError) Unwrap() error {
	return e.Err
}

// CallRepository is the call persistence the orchestrator depends on.
// ReplaceScore must apply the score update and the history append (when
// entry is non-nil) atomically.
type CallRepository interface {
	GetCall(ctx context.Context, id string) (*model.Call, error)
	ReplaceScore(ctx context.Context, call *model.Call, entry *model.HistoryEntry) error
}

// RuleVersionRepository resolves rule versions.
type RuleVersionRepository interface {
	GetRuleVersion(ctx context.Context, id string) (*model.RuleVersion, error)
	ActiveRuleVersion(ctx context.Context) (*model.RuleVersion, error)
}

// FrameworkResolver maps a framework version label to its step definitions.
// Returning false falls back to the default framework.
type FrameworkResolver func(label string) (scorer.Framework, bool)

// Result is the outcome of a rescore.
type Result struct {
	Breakdown      *model.ScoreBreakdown `json:"breakdown"`
	HistoryWritten bool                  `json:"history_written"`
}

// Orchestrator replaces a call's current score under a selected rule
// version. The score replacement and ledger append are one atomic unit;
// concurrent rescores of the same call are last-writer-wins, each change
// still producing its own ledger entry.
type Orchestrator struct {
	calls    CallRepository
	versions RuleVersionRepository
	resolve  FrameworkResolver
}

// New creates an Orchestrator. The resolver may be nil, in which case every
// label resolves to the default framework.
func New(calls CallRepository, versions RuleVersionRepository, resolve FrameworkResolver) *Orchestrator {
	return &Orchestrator{calls: calls, versions: versions, resolve: resolve}
}

// Rescore re-scores the call's stored transcript under the given rule
// version (empty versionID selects the active version, if any) and replaces
// the current score unconditionally. A history entry is appended if and
// only if the breakdown changed and a concrete rule version is known. On
// any failure the call's prior score is untouched.
func (o *Orchestrator) Rescore(ctx context.Context, callID, versionID string) (*Result, error) {
	call, err := o.calls.GetCall(ctx, callID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, &UnknownCallError{CallID: callID}
		}
		return nil, eris.Wrapf(err, "rescore: load call %s", callID)
	}

	version, err := o.resolveVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	fw := o.framework(version)
	sc := scorer.New(scorer.RulesFor(versionLabel(version)))

	newBreakdown, err := sc.Score(call.Transcript, fw)
	if err != nil {
		var invalid *scorer.InvalidInputError
		if eris.As(err, &invalid) {
			return nil, &ScoringFailedError{CallID: callID, Err: err}
		}
		return nil, eris.Wrapf(err, "rescore: score call %s", callID)
	}

	changed := !newBreakdown.Equal(&call.Breakdown)

	// The current score always reflects the most recently requested
	// version, even when nothing changed.
	call.Breakdown = *newBreakdown
	call.Total = newBreakdown.Total
	frameworkVersion := fw.Version
	call.FrameworkVersion = &frameworkVersion
	if version != nil {
		call.RuleVersionID = &version.ID
	} else {
		call.RuleVersionID = nil
	}

	var entry *model.HistoryEntry
	if changed && version != nil {
		entry = &model.HistoryEntry{
			CallID:           call.ID,
			RuleVersionID:    version.ID,
			FrameworkVersion: fw.Version,
			Total:            newBreakdown.Total,
			Breakdown:        *newBreakdown,
		}
	}

	if err := o.replaceWithRetry(ctx, call, entry); err != nil {
		return nil, err
	}

	zap.L().Info("rescore: score replaced",
		zap.String("call_id", call.ID),
		zap.Int("total", newBreakdown.Total),
		zap.Bool("changed", changed),
		zap.Bool("history_written", entry != nil),
	)

	return &Result{Breakdown: newBreakdown, HistoryWritten: entry != nil}, nil
}

// replaceWithRetry applies the atomic write, retrying once on a partial
// write. The write is a full replacement, so the retry is idempotent.
func (o *Orchestrator) replaceWithRetry(ctx context.Context, call *model.Call, entry *model.HistoryEntry) error {
	err := o.calls.ReplaceScore(ctx, call, entry)
	if err == nil {
		return nil
	}

	var partial *store.PartialWriteError
	if !eris.As(err, &partial) {
		if eris.Is(err, store.ErrNotFound) {
			return &UnknownCallError{CallID: call.ID}
		}
		return eris.Wrapf(err, "rescore: replace score for call %s", call.ID)
	}

	zap.L().Warn("rescore: partial write, retrying",
		zap.String("call_id", call.ID),
		zap.Error(err),
	)
	if err := o.calls.ReplaceScore(ctx, call, entry); err != nil {
		return eris.Wrapf(err, "rescore: replace score retry for call %s", call.ID)
	}
	return nil
}

// resolveVersion loads the requested version, or the active one when no ID
// is given. No version at all is allowed: scoring falls back to baseline
// rules and no history entry is written.
func (o *Orchestrator) resolveVersion(ctx context.Context, versionID string) (*model.RuleVersion, error) {
	if versionID != "" {
		v, err := o.versions.GetRuleVersion(ctx, versionID)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				return nil, &UnknownRuleVersionError{VersionID: versionID}
			}
			return nil, eris.Wrapf(err, "rescore: load rule version %s", versionID)
		}
		return v, nil
	}

	v, err := o.versions.ActiveRuleVersion(ctx)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "rescore: load active rule version")
	}
	return v, nil
}

func (o *Orchestrator) framework(version *model.RuleVersion) scorer.Framework {
	if version != nil && o.resolve != nil {
		if fw, ok := o.resolve(version.FrameworkVersion); ok {
			return fw
		}
	}
	return scorer.DefaultFramework()
}

func versionLabel(version *model.RuleVersion) string {
	if version == nil {
		return ""
	}
	if version.Label != "" {
		return version.Label
	}
	return version.Name
}
