package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callcoach/internal/coach"
	"github.com/sells-group/callcoach/internal/model"
)

// outputWriter returns the file to write results to, stdout when path is empty.
func outputWriter(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create output file %s", path)
	}
	return f, func() { f.Close() }, nil //nolint:errcheck
}

func writeJSON(w *os.File, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write JSON")
}

func writeBreakdownTable(w *os.File, b *model.ScoreBreakdown) error {
	header := fmt.Sprintf("%-20s %-20s %7s %7s %7s  %s\n",
		"Step", "Name", "Credit", "Weight", "Points", "Notes")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 110)); err != nil {
		return eris.Wrap(err, "write table separator")
	}

	for _, s := range b.Steps {
		notes := s.Notes
		if len(notes) > 44 {
			notes = notes[:41] + "..."
		}
		points := s.Credit * float64(s.Weight)
		line := fmt.Sprintf("%-20s %-20s %7.1f %7d %7.1f  %s\n",
			s.StepKey, s.Name, s.Credit, s.Weight, points, notes)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "write table row")
		}
	}

	if _, err := fmt.Fprintf(w, "\nTotal: %d / %d\n", b.Total, b.MaxTotal()); err != nil {
		return eris.Wrap(err, "write total")
	}
	return nil
}

func printAnalysis(w *os.File, a coach.Analysis) {
	fmt.Fprintln(w, "\nStrengths:")
	if len(a.Strengths) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, s := range a.Strengths {
		fmt.Fprintf(w, "  + %s (%.1f x %d)\n", stepLabel(s), s.Credit, s.Weight)
	}

	fmt.Fprintln(w, "\nAreas for improvement:")
	if len(a.Improvements) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, s := range a.Improvements {
		fmt.Fprintf(w, "  - %s (%.1f x %d)\n", stepLabel(s), s.Credit, s.Weight)
	}
}

func printSuggestions(w *os.File, suggestions []coach.Suggestion) {
	for _, s := range suggestions {
		fmt.Fprintf(w, "\nPivots for %s:\n", s.StepKey)
		if len(s.Prompts) == 0 {
			fmt.Fprintln(w, "  (no suggestions)")
			continue
		}
		for i, p := range s.Prompts {
			fmt.Fprintf(w, "  %d. %s\n", i+1, p)
		}
		if s.Extra > 0 {
			fmt.Fprintf(w, "  (+%d more)\n", s.Extra)
		}
	}
}

func stepLabel(s model.StepScore) string {
	if s.Name != "" {
		return s.Name
	}
	return s.StepKey
}
