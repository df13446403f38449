// Package scorer implements deterministic, rule-based transcript scoring
// against a weighted sales framework.
package scorer

import (
	"fmt"
	"strings"

	"github.com/sells-group/callcoach/internal/model"
)

// InvalidInputError reports a transcript that cannot be scored. An empty
// transcript is rejected rather than scored as zero.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "scorer: invalid input: " + e.Reason
}

// Scorer evaluates transcripts against a rule set. It is a pure computation:
// identical (transcript, framework) input always produces an identical
// breakdown, byte for byte, including notes.
type Scorer struct {
	rules RuleSet
}

// New creates a Scorer using the given rule set.
func New(rules RuleSet) *Scorer {
	return &Scorer{rules: rules}
}

// Rules returns the rule set this scorer evaluates with.
func (s *Scorer) Rules() RuleSet {
	return s.rules
}

// Score evaluates the transcript against every framework step in order and
// returns the weighted breakdown. The total is computed from the per-step
// credits, never estimated independently.
func (s *Scorer) Score(transcript string, fw Framework) (*model.ScoreBreakdown, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, &InvalidInputError{Reason: "empty transcript"}
	}
	if err := ValidateFramework(fw); err != nil {
		return nil, err
	}

	lower := strings.ToLower(transcript)

	steps := make([]model.StepScore, 0, len(fw.Steps))
	for _, def := range fw.Steps {
		credit, notes := evaluateStep(lower, s.rules.Steps[def.Key], s.rules.FullCreditHits)
		steps = append(steps, model.StepScore{
			StepKey:    def.Key,
			Name:       def.Name,
			Credit:     credit,
			Weight:     def.Weight,
			Notes:      notes,
			ColorClass: model.ColorClassFor(credit),
		})
	}

	breakdown := &model.ScoreBreakdown{Steps: steps}
	breakdown.Total = model.ComputeTotal(steps)
	return breakdown, nil
}

// evaluateStep assigns one of the three credit levels from phrase matches.
// Matched phrases are reported in rule-declared order so notes are stable.
func evaluateStep(lower string, rule StepRule, fullCreditHits int) (float64, string) {
	if fullCreditHits < 1 {
		fullCreditHits = 1
	}

	strong := matchPhrases(lower, rule.Strong)
	weak := matchPhrases(lower, rule.Weak)

	switch {
	case len(strong) >= fullCreditHits:
		return model.CreditFull, "strong evidence: " + quoteJoin(strong, 3)
	case len(strong) > 0:
		return model.CreditPartial, "partial evidence: " + quoteJoin(strong, 3)
	case len(weak) > 0:
		return model.CreditPartial, "weak evidence: " + quoteJoin(weak, 3)
	default:
		return model.CreditNone, "no evidence of this step in the transcript"
	}
}

// matchPhrases returns the phrases that appear in the lowercased transcript,
// preserving declaration order.
func matchPhrases(lower string, phrases []string) []string {
	var matched []string
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			matched = append(matched, p)
		}
	}
	return matched
}

// quoteJoin renders up to max phrases as a quoted, comma-separated list.
func quoteJoin(phrases []string, max int) string {
	shown := phrases
	extra := 0
	if len(shown) > max {
		extra = len(shown) - max
		shown = shown[:max]
	}

	var b strings.Builder
	for i, p := range shown {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", p)
	}
	if extra > 0 {
		fmt.Fprintf(&b, " (+%d more)", extra)
	}
	return b.String()
}
