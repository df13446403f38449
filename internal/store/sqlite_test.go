package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/callcoach/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testBreakdown(qualifyCredit float64) model.ScoreBreakdown {
	b := model.ScoreBreakdown{Steps: []model.StepScore{
		{StepKey: "pinpoint_pain", Name: "Pinpoint Pain", Credit: 1, Weight: 4, Notes: "strong evidence"},
		{StepKey: "qualify", Name: "Qualify", Credit: qualifyCredit, Weight: 3, Notes: "evidence varies"},
		{StepKey: "next_steps", Name: "Next Steps", Credit: 0.5, Weight: 4, Notes: "weak evidence"},
	}}
	b.Recalculate()
	return b
}

func testCall(qualifyCredit float64) *model.Call {
	b := testBreakdown(qualifyCredit)
	fv := "1.0"
	return &model.Call{
		Rep:              "jordan",
		Transcript:       "what's the biggest challenge you're facing?",
		Breakdown:        b,
		Total:            b.Total,
		FrameworkVersion: &fv,
	}
}

func TestSQLiteCreateAndGetCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	call := testCall(1)
	require.NoError(t, s.CreateCall(ctx, call))
	require.NotEmpty(t, call.ID)

	got, err := s.GetCall(ctx, call.ID)
	require.NoError(t, err)

	assert.Equal(t, call.ID, got.ID)
	assert.Equal(t, "jordan", got.Rep)
	assert.Equal(t, call.Transcript, got.Transcript)
	assert.Equal(t, call.Total, got.Total)
	assert.True(t, call.Breakdown.Equal(&got.Breakdown))
	require.NotNil(t, got.FrameworkVersion)
	assert.Equal(t, "1.0", *got.FrameworkVersion)
	assert.Nil(t, got.RuleVersionID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteGetCallNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCall(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteCallWithNilVersionFields(t *testing.T) {
	// Calls scored before rule versioning have no version references but
	// must load cleanly.
	s := newTestStore(t)
	ctx := context.Background()

	call := testCall(0.5)
	call.FrameworkVersion = nil
	require.NoError(t, s.CreateCall(ctx, call))

	got, err := s.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RuleVersionID)
	assert.Nil(t, got.FrameworkVersion)
	require.NoError(t, got.Breakdown.Validate())
}

func TestSQLiteListCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := testCall(0)
	require.NoError(t, s.CreateCall(ctx, low))
	high := testCall(1)
	require.NoError(t, s.CreateCall(ctx, high))

	all, err := s.ListCalls(ctx, CallFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := s.ListCalls(ctx, CallFilter{MinTotal: high.Total})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, high.ID, filtered[0].ID)

	limited, err := s.ListCalls(ctx, CallFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byVersion, err := s.ListCalls(ctx, CallFilter{FrameworkVersion: "1.0"})
	require.NoError(t, err)
	assert.Len(t, byVersion, 2)
}

func TestSQLiteReplaceScoreWithHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	call := testCall(0)
	require.NoError(t, s.CreateCall(ctx, call))

	v := &model.RuleVersion{Name: "strict", Label: "strict-1.1", FrameworkVersion: "1.0"}
	require.NoError(t, s.CreateRuleVersion(ctx, v))

	newBreakdown := testBreakdown(1)
	call.Breakdown = newBreakdown
	call.Total = newBreakdown.Total
	call.RuleVersionID = &v.ID

	entry := &model.HistoryEntry{
		CallID:           call.ID,
		RuleVersionID:    v.ID,
		FrameworkVersion: "1.0",
		Total:            newBreakdown.Total,
		Breakdown:        newBreakdown,
	}
	require.NoError(t, s.ReplaceScore(ctx, call, entry))

	got, err := s.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, newBreakdown.Total, got.Total)
	assert.True(t, newBreakdown.Equal(&got.Breakdown))
	require.NotNil(t, got.RuleVersionID)
	assert.Equal(t, v.ID, *got.RuleVersionID)

	history, err := s.ListHistory(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, v.ID, history[0].RuleVersionID)
	assert.Equal(t, newBreakdown.Total, history[0].Total)
	assert.True(t, newBreakdown.Equal(&history[0].Breakdown))
}

func TestSQLiteReplaceScoreWithoutHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	call := testCall(0.5)
	require.NoError(t, s.CreateCall(ctx, call))
	require.NoError(t, s.ReplaceScore(ctx, call, nil))

	history, err := s.ListHistory(ctx, call.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSQLiteReplaceScoreUnknownCall(t *testing.T) {
	s := newTestStore(t)

	call := testCall(1)
	call.ID = "ghost"
	err := s.ReplaceScore(context.Background(), call, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteHistoryOrderedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	call := testCall(0)
	require.NoError(t, s.CreateCall(ctx, call))
	v := &model.RuleVersion{Name: "baseline", Label: "baseline-1.0", FrameworkVersion: "1.0"}
	require.NoError(t, s.CreateRuleVersion(ctx, v))

	for i, credit := range []float64{0.5, 1, 0} {
		b := testBreakdown(credit)
		call.Breakdown = b
		call.Total = b.Total
		entry := &model.HistoryEntry{
			CallID:           call.ID,
			RuleVersionID:    v.ID,
			FrameworkVersion: "1.0",
			Total:            b.Total,
			Breakdown:        b,
		}
		require.NoError(t, s.ReplaceScore(ctx, call, entry), "replace %d", i)
	}

	history, err := s.ListHistory(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, testBreakdown(0.5).Total, history[0].Total)
	assert.Equal(t, testBreakdown(1).Total, history[1].Total)
	assert.Equal(t, testBreakdown(0).Total, history[2].Total)
}

func TestSQLiteRuleVersionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ActiveRuleVersion(ctx)
	assert.True(t, eris.Is(err, ErrNotFound), "no active version yet")

	v1 := &model.RuleVersion{Name: "baseline", Label: "baseline-1.0", FrameworkVersion: "1.0"}
	require.NoError(t, s.CreateRuleVersion(ctx, v1))
	v2 := &model.RuleVersion{Name: "strict", Label: "strict-1.1", FrameworkVersion: "1.0"}
	require.NoError(t, s.CreateRuleVersion(ctx, v2))

	require.NoError(t, s.SetActiveRuleVersion(ctx, v1.ID))
	active, err := s.ActiveRuleVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	// Activating another version deactivates the first.
	require.NoError(t, s.SetActiveRuleVersion(ctx, v2.ID))
	active, err = s.ActiveRuleVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	versions, err := s.ListRuleVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	var activeCount int
	for _, v := range versions {
		if v.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "at most one active version")

	err = s.SetActiveRuleVersion(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))

	got, err := s.GetRuleVersion(ctx, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, "strict", got.Name)
	assert.Equal(t, "strict-1.1", got.Label)
}

func TestSQLitePivotPrompts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prompts := map[string][]string{
		"qualify": {"Is there budget?", "Who signs off?"},
		"qa":      {"What questions do you have?"},
	}
	require.NoError(t, s.SeedPivotPrompts(ctx, prompts))

	got, err := s.ListPivotPrompts(ctx, "qualify")
	require.NoError(t, err)
	assert.Equal(t, prompts["qualify"], got)

	// Reseeding is a no-op for existing positions.
	require.NoError(t, s.SeedPivotPrompts(ctx, map[string][]string{
		"qualify": {"Changed prompt", "Who signs off?", "A new third prompt"},
	}))
	got, err = s.ListPivotPrompts(ctx, "qualify")
	require.NoError(t, err)
	assert.Equal(t, []string{"Is there budget?", "Who signs off?", "A new third prompt"}, got)

	empty, err := s.ListPivotPrompts(ctx, "unknown_step")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteBreakdownPersistedInStepOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	call := testCall(0.5)
	require.NoError(t, s.CreateCall(ctx, call))

	got, err := s.GetCall(ctx, call.ID)
	require.NoError(t, err)

	keys := make([]string, len(got.Breakdown.Steps))
	for i, step := range got.Breakdown.Steps {
		keys[i] = step.StepKey
	}
	assert.Equal(t, []string{"pinpoint_pain", "qualify", "next_steps"}, keys)
}
