package coach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/callcoach/internal/model"
)

func breakdownOf(steps ...model.StepScore) *model.ScoreBreakdown {
	b := &model.ScoreBreakdown{Steps: steps}
	b.Recalculate()
	return b
}

func stepKeys(steps []model.StepScore) []string {
	keys := make([]string, len(steps))
	for i, s := range steps {
		keys[i] = s.StepKey
	}
	return keys
}

func TestAnalyzeBucketsAndCaps(t *testing.T) {
	b := breakdownOf(
		model.StepScore{StepKey: "pinpoint_pain", Credit: 1, Weight: 4},
		model.StepScore{StepKey: "qualify", Credit: 0, Weight: 3},
		model.StepScore{StepKey: "solution_success", Credit: 0.5, Weight: 3},
		model.StepScore{StepKey: "qa", Credit: 1, Weight: 3},
		model.StepScore{StepKey: "next_steps", Credit: 0, Weight: 4},
		model.StepScore{StepKey: "close_or_schedule", Credit: 0, Weight: 3},
	)

	a := Analyze(b)

	assert.Equal(t, []string{"pinpoint_pain", "qa", "solution_success"}, stepKeys(a.Strengths),
		"credit descending, credit ties by weight")
	assert.Equal(t, []string{"next_steps", "qualify", "close_or_schedule"}, stepKeys(a.Improvements),
		"the heaviest missed step leads the improvements")
}

func TestAnalyzeListsAreDisjoint(t *testing.T) {
	b := breakdownOf(
		model.StepScore{StepKey: "a", Credit: 0.5, Weight: 2},
		model.StepScore{StepKey: "b", Credit: 0.5, Weight: 2},
		model.StepScore{StepKey: "c", Credit: 0, Weight: 2},
	)

	a := Analyze(b)

	seen := make(map[string]bool)
	for _, s := range a.Strengths {
		seen[s.StepKey] = true
	}
	for _, s := range a.Improvements {
		require.False(t, seen[s.StepKey], "step %s in both lists", s.StepKey)
	}
	assert.Len(t, a.Strengths, 2)
	assert.Len(t, a.Improvements, 1)
}

func TestAnalyzeAllFullCredit(t *testing.T) {
	b := breakdownOf(
		model.StepScore{StepKey: "pinpoint_pain", Credit: 1, Weight: 4},
		model.StepScore{StepKey: "qualify", Credit: 1, Weight: 3},
		model.StepScore{StepKey: "solution_success", Credit: 1, Weight: 3},
		model.StepScore{StepKey: "qa", Credit: 1, Weight: 3},
		model.StepScore{StepKey: "next_steps", Credit: 1, Weight: 4},
		model.StepScore{StepKey: "close_or_schedule", Credit: 1, Weight: 3},
	)

	a := Analyze(b)

	assert.Equal(t, []string{"pinpoint_pain", "next_steps", "qualify"}, stepKeys(a.Strengths),
		"equal credit keeps the three heaviest steps, framework order last")
	assert.Empty(t, a.Improvements, "a perfect call has no improvement areas")
}

func TestAnalyzeAllZeroCredit(t *testing.T) {
	b := breakdownOf(
		model.StepScore{StepKey: "a", Credit: 0, Weight: 4},
		model.StepScore{StepKey: "b", Credit: 0, Weight: 3},
		model.StepScore{StepKey: "c", Credit: 0, Weight: 3},
		model.StepScore{StepKey: "d", Credit: 0, Weight: 3},
	)

	a := Analyze(b)

	assert.Empty(t, a.Strengths)
	assert.Len(t, a.Improvements, 3, "improvements capped at three")
	assert.Equal(t, []string{"a", "b", "c"}, stepKeys(a.Improvements))
}

func TestAnalyzeSkipsReservedAndMalformed(t *testing.T) {
	b := &model.ScoreBreakdown{Steps: []model.StepScore{
		{StepKey: "total", Credit: 1, Weight: 20},
		{StepKey: "", Credit: 1, Weight: 3},
		{StepKey: "qualify", Credit: 0.7, Weight: 3},
	}}

	a := Analyze(b)

	assert.Empty(t, a.Strengths)
	require.Len(t, a.Improvements, 1)
	assert.Equal(t, "qualify", a.Improvements[0].StepKey)
	assert.Equal(t, model.CreditNone, a.Improvements[0].Credit, "illegal credit degrades to zero")
}

func TestAnalyzeNil(t *testing.T) {
	a := Analyze(nil)
	assert.Empty(t, a.Strengths)
	assert.Empty(t, a.Improvements)
}
