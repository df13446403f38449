package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/callcoach/internal/coach"
	"github.com/sells-group/callcoach/internal/config"
	"github.com/sells-group/callcoach/internal/model"
	"github.com/sells-group/callcoach/internal/rescore"
	"github.com/sells-group/callcoach/internal/scorer"
	"github.com/sells-group/callcoach/internal/store"
)

func newTestAPI(t *testing.T) *apiServer {
	t.Helper()

	cfg = &config.Config{
		Scoring: config.ScoringConfig{DefaultRules: "baseline-1.0"},
	}

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	fw := scorer.DefaultFramework()
	return &apiServer{
		store:     st,
		framework: fw,
		pivots:    coach.DefaultLibrary(),
		resolve:   frameworkResolver(fw),
		orch:      rescore.New(st, st, frameworkResolver(fw)),
		submits:   rate.NewLimiter(rate.Inf, 1),
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIScoreAndFetchCall(t *testing.T) {
	api := newTestAPI(t)
	h := api.router()

	rec := doJSON(t, h, http.MethodPost, "/calls", map[string]string{
		"transcript": "what's the biggest challenge you're facing? what's your budget? we helped a similar company. any questions? next step, i'll send over a recap and schedule a demo.",
		"rep":        "jordan",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 20, created.Total)

	rec = doJSON(t, h, http.MethodGet, "/calls/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.True(t, created.Breakdown.Equal(&fetched.Breakdown))

	rec = doJSON(t, h, http.MethodGet, "/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var calls []model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
	assert.Len(t, calls, 1)
}

func TestAPIScoreEmptyTranscript(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.router(), http.MethodPost, "/calls", map[string]string{"transcript": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPIScoreUsesActiveRuleVersion(t *testing.T) {
	api := newTestAPI(t)
	h := api.router()
	ctx := context.Background()

	v := &model.RuleVersion{Name: "strict", Label: "strict-1.1", FrameworkVersion: "1.0"}
	require.NoError(t, api.store.CreateRuleVersion(ctx, v))
	require.NoError(t, api.store.SetActiveRuleVersion(ctx, v.ID))

	// One budget mention: full credit under baseline, partial under strict.
	rec := doJSON(t, h, http.MethodPost, "/calls", map[string]string{
		"transcript": "let me ask, what's your budget? and what's the biggest challenge you're facing today?",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.RuleVersionID)
	assert.Equal(t, v.ID, *created.RuleVersionID)

	qualify := created.Breakdown.Step("qualify")
	require.NotNil(t, qualify)
	assert.Equal(t, model.CreditPartial, qualify.Credit,
		"the recorded version's rules scored the call")
}

func TestAPIScoreExplicitRulesIgnoreActiveVersion(t *testing.T) {
	api := newTestAPI(t)
	h := api.router()
	ctx := context.Background()

	v := &model.RuleVersion{Name: "strict", Label: "strict-1.1", FrameworkVersion: "1.0"}
	require.NoError(t, api.store.CreateRuleVersion(ctx, v))
	require.NoError(t, api.store.SetActiveRuleVersion(ctx, v.ID))

	rec := doJSON(t, h, http.MethodPost, "/calls", map[string]string{
		"transcript": "let me ask, what's your budget? and what's the biggest challenge you're facing today?",
		"rules":      "baseline-1.0",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Nil(t, created.RuleVersionID,
		"explicitly requested rules did not come from the active version")

	qualify := created.Breakdown.Step("qualify")
	require.NotNil(t, qualify)
	assert.Equal(t, model.CreditFull, qualify.Credit)
}

func TestAPIGetCallNotFound(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.router(), http.MethodGet, "/calls/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPICoachingAndPivots(t *testing.T) {
	api := newTestAPI(t)
	h := api.router()

	// A thin transcript leaves most steps without evidence.
	rec := doJSON(t, h, http.MethodPost, "/calls", map[string]string{
		"transcript": "we talked about your biggest challenge for a while.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodGet, "/calls/"+created.ID+"/coaching", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Analysis coach.Analysis     `json:"analysis"`
		Pivots   []coach.Suggestion `json:"pivots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.Analysis.Improvements)
	assert.Len(t, out.Pivots, len(out.Analysis.Improvements))

	rec = doJSON(t, h, http.MethodGet, "/pivots/qualify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s coach.Suggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.NotEmpty(t, s.Prompts)
}

func TestAPIRescoreFlow(t *testing.T) {
	api := newTestAPI(t)
	h := api.router()

	rec := doJSON(t, h, http.MethodPost, "/calls", map[string]string{
		"transcript": "what's the biggest challenge here? and what's your budget? we helped a similar company, saw results too. any questions? next step, i'll send over notes. let's schedule a call.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	v := &model.RuleVersion{Name: "strict", Label: "strict-1.1", FrameworkVersion: "1.0"}
	require.NoError(t, api.store.CreateRuleVersion(context.Background(), v))

	rec = doJSON(t, h, http.MethodPost, "/calls/"+created.ID+"/rescore", map[string]string{"version_id": v.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result rescore.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.HistoryWritten, "stricter rules change the qualify credit")
	assert.Less(t, result.Breakdown.Total, created.Total)

	rec = doJSON(t, h, http.MethodGet, "/calls/"+created.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, v.ID, entries[0].RuleVersionID)

	// Rescoring again under the same version changes nothing.
	rec = doJSON(t, h, http.MethodPost, "/calls/"+created.ID+"/rescore", map[string]string{"version_id": v.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.HistoryWritten)

	rec = doJSON(t, h, http.MethodGet, "/calls/"+created.ID+"/history", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

func TestAPIRescoreUnknownVersion(t *testing.T) {
	api := newTestAPI(t)
	h := api.router()

	rec := doJSON(t, h, http.MethodPost, "/calls", map[string]string{
		"transcript": "tell me about your biggest challenge.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Call
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPost, "/calls/"+created.ID+"/rescore", map[string]string{"version_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIRateLimit(t *testing.T) {
	api := newTestAPI(t)
	api.submits = rate.NewLimiter(rate.Limit(0), 1)
	h := api.router()

	body := map[string]string{"transcript": "biggest challenge talk"}
	first := doJSON(t, h, http.MethodPost, "/calls", body)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, h, http.MethodPost, "/calls", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
