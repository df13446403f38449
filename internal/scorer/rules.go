package scorer

// StepRule holds the evidence phrases for one framework step. Strong
// phrases indicate the behavior clearly happened; weak phrases are partial
// evidence. Matching is case-insensitive substring search.
type StepRule struct {
	Strong []string `yaml:"strong"`
	Weak   []string `yaml:"weak"`
}

// RuleSet is a named, versioned collection of per-step rules. The phrase
// lists and the full-credit threshold are what distinguish rule versions.
type RuleSet struct {
	Version string
	// FullCreditHits is how many distinct strong phrases must match for
	// full credit. Fewer strong hits (or any weak hit) earn partial credit.
	FullCreditHits int
	Steps          map[string]StepRule
}

// BaselineRules returns the 1.0 rule set: a single strong phrase earns full
// credit.
func BaselineRules() RuleSet {
	return RuleSet{
		Version:        "baseline-1.0",
		FullCreditHits: 1,
		Steps: map[string]StepRule{
			"pinpoint_pain": {
				Strong: []string{
					"biggest challenge", "pain point", "struggling with",
					"the problem is", "keeps you up at night", "frustrated with",
				},
				Weak: []string{"challenge", "problem", "issue", "difficult"},
			},
			"qualify": {
				Strong: []string{
					"what's your budget", "budget for this", "decision maker",
					"who else is involved", "what's your timeline",
					"timeline for a decision",
				},
				Weak: []string{"budget", "timeline", "decision", "stakeholder"},
			},
			"solution_success": {
				Strong: []string{
					"customers like you", "case study", "we helped",
					"similar company", "success story", "saw results",
				},
				Weak: []string{"our solution", "we offer", "our platform", "results"},
			},
			"qa": {
				Strong: []string{
					"what questions do you have", "any questions",
					"does that make sense", "how does that sound",
					"anything unclear",
				},
				Weak: []string{"questions", "make sense", "clarify"},
			},
			"next_steps": {
				Strong: []string{
					"next step", "next steps", "i'll send over", "follow up with you",
					"action item", "i'll put together",
				},
				Weak: []string{"follow up", "send you", "circle back"},
			},
			"close_or_schedule": {
				Strong: []string{
					"schedule a", "book a", "calendar invite", "see you on",
					"get you signed", "put time on the calendar",
				},
				Weak: []string{"schedule", "meeting", "demo", "calendar"},
			},
		},
	}
}

// StrictRules returns the 1.1 rule set: full credit requires two distinct
// strong phrases, and the qualify step demands explicit budget and
// authority language.
func StrictRules() RuleSet {
	rs := BaselineRules()
	rs.Version = "strict-1.1"
	rs.FullCreditHits = 2

	steps := make(map[string]StepRule, len(rs.Steps))
	for k, v := range rs.Steps {
		steps[k] = v
	}
	steps["qualify"] = StepRule{
		Strong: []string{
			"what's your budget", "budget for this", "decision maker",
			"signing authority", "who signs off", "procurement process",
		},
		Weak: []string{"budget", "timeline", "decision"},
	}
	rs.Steps = steps
	return rs
}

// builtinRules maps rule-version names and labels to their rule sets.
var builtinRules = map[string]func() RuleSet{
	"baseline":     BaselineRules,
	"baseline-1.0": BaselineRules,
	"1.0":          BaselineRules,
	"strict":       StrictRules,
	"strict-1.1":   StrictRules,
	"1.1":          StrictRules,
}

// KnownRules reports whether a label names a built-in rule set.
func KnownRules(label string) bool {
	_, ok := builtinRules[label]
	return ok
}

// RulesFor returns the rule set for a version name or label. Unknown or
// empty labels fall back to the baseline rules so pre-versioning calls and
// unrecognized versions still score deterministically.
func RulesFor(label string) RuleSet {
	if f, ok := builtinRules[label]; ok {
		return f()
	}
	return BaselineRules()
}
