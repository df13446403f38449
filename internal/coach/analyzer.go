// Package coach derives coaching guidance from score breakdowns: strengths,
// areas for improvement, and scripted pivot prompts for weak steps.
package coach

import (
	"sort"

	"github.com/sells-group/callcoach/internal/model"
)

// maxListed caps each analysis list.
const maxListed = 3

// Analysis splits a breakdown's steps into strengths and areas for
// improvement. The two lists are always disjoint.
type Analysis struct {
	Strengths    []model.StepScore `json:"strengths"`
	Improvements []model.StepScore `json:"improvements"`
}

// Analyze sorts step scores by credit descending, breaking credit ties by
// weight descending (remaining ties keep framework order), then buckets
// them: credit >= 0.5 is a strength, below is an improvement, each list
// capped at three. A reserved "total" pseudo-key is skipped. Malformed
// input degrades to zero credit rather than failing.
func Analyze(b *model.ScoreBreakdown) Analysis {
	if b == nil {
		return Analysis{}
	}

	scored := make([]model.StepScore, 0, len(b.Steps))
	for _, s := range b.Steps {
		if s.StepKey == "" || s.StepKey == "total" {
			continue
		}
		if !model.ValidCredit(s.Credit) {
			s.Credit = model.CreditNone
			s.ColorClass = model.ColorClassFor(s.Credit)
		}
		scored = append(scored, s)
	}

	// Stable sort: heavier steps break credit ties, and the input's
	// framework order settles the rest.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Credit != scored[j].Credit {
			return scored[i].Credit > scored[j].Credit
		}
		return scored[i].Weight > scored[j].Weight
	})

	var a Analysis
	for _, s := range scored {
		if s.Credit >= model.CreditPartial {
			if len(a.Strengths) < maxListed {
				a.Strengths = append(a.Strengths, s)
			}
		} else if len(a.Improvements) < maxListed {
			a.Improvements = append(a.Improvements, s)
		}
	}
	return a
}
