package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/callcoach/internal/model"
)

const sampleTranscript = `
Rep: Thanks for making time. What's the biggest challenge your team is facing?
Prospect: Honestly, our reporting. It's the pain point everyone complains about.
Rep: Got it. What's your budget for solving this, and what's your timeline?
Prospect: We have budget set aside, probably this quarter.
Rep: We helped a similar company cut reporting time in half. Happy to share the case study.
Rep: What questions do you have for me?
Prospect: None right now.
Rep: Great. As a next step, I'll send over the case study and we can schedule a demo.
`

func TestScoreFullTranscript(t *testing.T) {
	sc := New(BaselineRules())
	fw := DefaultFramework()

	b, err := sc.Score(sampleTranscript, fw)
	require.NoError(t, err)

	require.Len(t, b.Steps, len(fw.Steps))
	for i, def := range fw.Steps {
		assert.Equal(t, def.Key, b.Steps[i].StepKey, "steps follow framework order")
		assert.Equal(t, def.Weight, b.Steps[i].Weight)
		assert.True(t, model.ValidCredit(b.Steps[i].Credit))
		assert.NotEmpty(t, b.Steps[i].Notes)
		assert.Equal(t, model.ColorClassFor(b.Steps[i].Credit), b.Steps[i].ColorClass)
	}

	// Every step has strong evidence in the sample, so the total is the max.
	assert.Equal(t, model.CreditFull, b.Step("pinpoint_pain").Credit)
	assert.Equal(t, model.CreditFull, b.Step("qualify").Credit)
	assert.Equal(t, model.CreditFull, b.Step("solution_success").Credit)
	assert.Equal(t, model.CreditFull, b.Step("qa").Credit)
	assert.Equal(t, model.CreditFull, b.Step("next_steps").Credit)
	assert.Equal(t, model.CreditFull, b.Step("close_or_schedule").Credit)
	assert.Equal(t, fw.WeightSum(), b.Total)
	require.NoError(t, b.Validate())
}

func TestScoreDeterministic(t *testing.T) {
	sc := New(BaselineRules())
	fw := DefaultFramework()

	first, err := sc.Score(sampleTranscript, fw)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := sc.Score(sampleTranscript, fw)
		require.NoError(t, err)
		assert.True(t, first.Equal(again), "identical input must produce identical output")
		for j := range first.Steps {
			assert.Equal(t, first.Steps[j].Notes, again.Steps[j].Notes)
		}
	}
}

func TestScoreEmptyTranscript(t *testing.T) {
	sc := New(BaselineRules())

	for _, transcript := range []string{"", "   ", "\n\t\n"} {
		b, err := sc.Score(transcript, DefaultFramework())
		assert.Nil(t, b)
		var invalid *InvalidInputError
		require.ErrorAs(t, err, &invalid)
	}
}

func TestScoreCreditLevels(t *testing.T) {
	sc := New(BaselineRules())
	fw := DefaultFramework()

	tests := []struct {
		name       string
		transcript string
		step       string
		wantCredit float64
		wantNotes  string
	}{
		{
			name:       "strong phrase earns full credit",
			transcript: "tell me about your biggest challenge",
			step:       "pinpoint_pain",
			wantCredit: model.CreditFull,
			wantNotes:  "strong evidence",
		},
		{
			name:       "weak phrase earns partial credit",
			transcript: "sounds like a difficult situation",
			step:       "pinpoint_pain",
			wantCredit: model.CreditPartial,
			wantNotes:  "weak evidence",
		},
		{
			name:       "no phrases earn no credit",
			transcript: "we talked about the weather for an hour",
			step:       "pinpoint_pain",
			wantCredit: model.CreditNone,
			wantNotes:  "no evidence",
		},
		{
			name:       "matching is case-insensitive",
			transcript: "WHAT'S YOUR BUDGET for this project?",
			step:       "qualify",
			wantCredit: model.CreditFull,
			wantNotes:  "strong evidence",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := sc.Score(tt.transcript, fw)
			require.NoError(t, err)
			step := b.Step(tt.step)
			require.NotNil(t, step)
			assert.Equal(t, tt.wantCredit, step.Credit)
			assert.Contains(t, step.Notes, tt.wantNotes)
		})
	}
}

func TestScoreStrictRulesRequireTwoHits(t *testing.T) {
	fw := DefaultFramework()
	transcript := "so tell me, what's your biggest challenge these days?"

	baseline, err := New(BaselineRules()).Score(transcript, fw)
	require.NoError(t, err)
	assert.Equal(t, model.CreditFull, baseline.Step("pinpoint_pain").Credit)

	strict, err := New(StrictRules()).Score(transcript, fw)
	require.NoError(t, err)
	assert.Equal(t, model.CreditPartial, strict.Step("pinpoint_pain").Credit,
		"one strong hit is only partial credit under strict rules")

	two := transcript + " that pain point keeps coming up."
	strict2, err := New(StrictRules()).Score(two, fw)
	require.NoError(t, err)
	assert.Equal(t, model.CreditFull, strict2.Step("pinpoint_pain").Credit)
}

func TestScoreInvalidFramework(t *testing.T) {
	sc := New(BaselineRules())

	_, err := sc.Score("hello", Framework{Version: "x", WeightTotal: 5, Steps: []StepDef{
		{Key: "a", Weight: 2},
		{Key: "a", Weight: 3},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step key")
}

func TestQuoteJoin(t *testing.T) {
	assert.Equal(t, `"a"`, quoteJoin([]string{"a"}, 3))
	assert.Equal(t, `"a", "b", "c"`, quoteJoin([]string{"a", "b", "c"}, 3))
	assert.Equal(t, `"a", "b", "c" (+2 more)`, quoteJoin([]string{"a", "b", "c", "d", "e"}, 3))
}

func TestMatchPhrasesOrder(t *testing.T) {
	lower := "zebra apple mango"
	got := matchPhrases(lower, []string{"mango", "apple", "pear"})
	assert.Equal(t, []string{"mango", "apple"}, got, "declaration order, not text order")
}
