package scorer

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultWeightTotal is the point total the default framework sums to.
const DefaultWeightTotal = 20

// StepDef defines one step of the sales framework.
type StepDef struct {
	Key    string `yaml:"key" json:"key"`
	Name   string `yaml:"name" json:"name"`
	Weight int    `yaml:"weight" json:"weight"`
	Order  int    `yaml:"order" json:"order"`
}

// Framework is an ordered list of step definitions whose weights sum to
// WeightTotal. Editing a framework never alters historical scores; each
// breakdown copies the weights in effect at scoring time.
type Framework struct {
	Version     string    `yaml:"version" json:"version"`
	WeightTotal int       `yaml:"weight_total" json:"weight_total"`
	Steps       []StepDef `yaml:"steps" json:"steps"`
}

// DefaultFramework returns the standard six-step framework (weights sum to 20).
func DefaultFramework() Framework {
	return Framework{
		Version:     "1.0",
		WeightTotal: DefaultWeightTotal,
		Steps: []StepDef{
			{Key: "pinpoint_pain", Name: "Pinpoint Pain", Weight: 4, Order: 1},
			{Key: "qualify", Name: "Qualify", Weight: 3, Order: 2},
			{Key: "solution_success", Name: "Solution Success", Weight: 3, Order: 3},
			{Key: "qa", Name: "Q&A", Weight: 3, Order: 4},
			{Key: "next_steps", Name: "Next Steps", Weight: 4, Order: 5},
			{Key: "close_or_schedule", Name: "Close or Schedule", Weight: 3, Order: 6},
		},
	}
}

// LoadFramework reads a framework definition from a YAML file. Missing step
// names are derived from the key; missing orders default to list position.
func LoadFramework(path string) (Framework, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Framework{}, eris.Wrapf(err, "framework: read %s", path)
	}

	// The YAML has a top-level "framework" key.
	var wrapper struct {
		Framework Framework `yaml:"framework"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Framework{}, eris.Wrap(err, "framework: parse")
	}

	fw := wrapper.Framework
	if fw.WeightTotal == 0 {
		fw.WeightTotal = DefaultWeightTotal
	}
	for i := range fw.Steps {
		if fw.Steps[i].Name == "" {
			fw.Steps[i].Name = displayName(fw.Steps[i].Key)
		}
		if fw.Steps[i].Order == 0 {
			fw.Steps[i].Order = i + 1
		}
	}

	if err := ValidateFramework(fw); err != nil {
		return Framework{}, err
	}
	return fw, nil
}

// displayName derives a human-readable step name from its key.
func displayName(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// WeightSum returns the sum of all step weights.
func (f Framework) WeightSum() int {
	var sum int
	for _, s := range f.Steps {
		sum += s.Weight
	}
	return sum
}

// ValidateFramework checks that a framework is internally consistent.
func ValidateFramework(f Framework) error {
	var errs []string

	if len(f.Steps) == 0 {
		errs = append(errs, "framework must define at least one step")
	}
	if f.Version == "" {
		errs = append(errs, "version label is required")
	}

	seen := make(map[string]bool, len(f.Steps))
	for _, s := range f.Steps {
		if s.Key == "" {
			errs = append(errs, "step with empty key")
			continue
		}
		if seen[s.Key] {
			errs = append(errs, fmt.Sprintf("duplicate step key %q", s.Key))
		}
		seen[s.Key] = true
		if s.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("step %q weight must be > 0", s.Key))
		}
	}

	if f.WeightTotal > 0 && len(f.Steps) > 0 {
		if sum := f.WeightSum(); sum != f.WeightTotal {
			errs = append(errs, fmt.Sprintf("weights should sum to %d, got %d", f.WeightTotal, sum))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("framework: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
