package coach

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// maxPrompts is the most prompts Suggest returns per step.
const maxPrompts = 3

// Suggestion holds the pivot prompts for one step. Extra counts prompts
// beyond the returned ones so callers can render a "N more" hint.
type Suggestion struct {
	StepKey string   `json:"step_key"`
	Prompts []string `json:"prompts"`
	Extra   int      `json:"extra,omitempty"`
}

// PivotLibrary maps step keys to ordered coaching prompts. Read-only after
// construction, so safe for concurrent use.
type PivotLibrary struct {
	prompts map[string][]string
}

// NewLibrary builds a library from the given prompt map, copying the slices.
func NewLibrary(prompts map[string][]string) *PivotLibrary {
	cp := make(map[string][]string, len(prompts))
	for k, v := range prompts {
		cp[k] = append([]string(nil), v...)
	}
	return &PivotLibrary{prompts: cp}
}

// DefaultLibrary returns the built-in prompts for the default framework.
func DefaultLibrary() *PivotLibrary {
	return NewLibrary(map[string][]string{
		"pinpoint_pain": {
			"What's the biggest challenge your team is facing right now?",
			"If you could fix one thing about your current process, what would it be?",
			"What happens if this problem goes unsolved for another quarter?",
			"How is this affecting your team day to day?",
		},
		"qualify": {
			"Is there budget set aside for solving this?",
			"Who else would be involved in a decision like this?",
			"What does your timeline look like for making a change?",
			"Walk me through how a purchase like this usually gets approved.",
		},
		"solution_success": {
			"Would it help to hear how a similar company handled this?",
			"What would success look like for you six months in?",
		},
		"qa": {
			"What questions can I answer for you?",
			"Is there anything I explained that didn't land?",
			"What concerns would your team raise about this?",
		},
		"next_steps": {
			"What would be a useful next step from your side?",
			"Can I send over a summary and a proposed plan?",
			"Who should I include on the follow-up?",
		},
		"close_or_schedule": {
			"Should we put time on the calendar for a deeper dive?",
			"What would you need to see to move forward?",
			"Can we schedule the demo while we're both here?",
		},
	})
}

// LoadLibrary reads a prompt library from a YAML file keyed by step.
func LoadLibrary(path string) (*PivotLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pivot: read %s", path)
	}

	// The YAML has a top-level "pivots" key.
	var wrapper struct {
		Pivots map[string][]string `yaml:"pivots"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "pivot: parse")
	}
	return NewLibrary(wrapper.Pivots), nil
}

// Suggest returns up to three prompts for the given step key. Unknown keys
// return an empty suggestion, not an error; callers render a "no
// suggestions" state. Repeated calls return the same candidates.
func (l *PivotLibrary) Suggest(stepKey string) Suggestion {
	s := Suggestion{StepKey: stepKey}
	all := l.prompts[stepKey]
	if len(all) == 0 {
		return s
	}
	if len(all) > maxPrompts {
		s.Extra = len(all) - maxPrompts
		all = all[:maxPrompts]
	}
	s.Prompts = append([]string(nil), all...)
	return s
}

// All returns a copy of the full prompt map, used to seed stores.
func (l *PivotLibrary) All() map[string][]string {
	cp := make(map[string][]string, len(l.prompts))
	for k, v := range l.prompts {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}

// ForImprovements returns one suggestion per improvement step, in analysis
// order. Steps with no registered prompts still appear, with empty prompts.
func (l *PivotLibrary) ForImprovements(a Analysis) []Suggestion {
	suggestions := make([]Suggestion, 0, len(a.Improvements))
	for _, s := range a.Improvements {
		suggestions = append(suggestions, l.Suggest(s.StepKey))
	}
	return suggestions
}
