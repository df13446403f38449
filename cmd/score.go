package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/callcoach/internal/coach"
	"github.com/sells-group/callcoach/internal/model"
	"github.com/sells-group/callcoach/internal/scorer"
	"github.com/sells-group/callcoach/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score <transcript-file>",
	Short: "Score a call transcript against the framework",
	Long: `Score a sales call transcript against the weighted framework.

Each framework step earns no, partial, or full credit from keyword
evidence in the transcript; the total is the weighted sum. The same
transcript under the same rules always produces the same breakdown.

Examples:
  # Score a transcript and print the breakdown
  callcoach score call.txt

  # Score with the strict rules and save the call
  callcoach score call.txt --rules strict-1.1 --save --rep "jordan"

  # JSON output with coaching analysis
  callcoach score call.txt --format json --coach`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("framework", "", "framework YAML file (default: built-in framework)")
	f.String("rules", "", "rule version label (default from config)")
	f.String("format", "table", "output format: table or json")
	f.String("output", "", "output file path (default: stdout)")
	f.Bool("save", false, "persist the call and its score to the store")
	f.String("rep", "", "sales rep name to record with a saved call")
	f.Bool("coach", false, "include strengths, improvements and pivot prompts")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frameworkPath, _ := cmd.Flags().GetString("framework")
	rules, _ := cmd.Flags().GetString("rules")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	save, _ := cmd.Flags().GetBool("save")
	rep, _ := cmd.Flags().GetString("rep")
	withCoach, _ := cmd.Flags().GetBool("coach")

	if format != "table" && format != "json" {
		return eris.Errorf("score: --format must be table or json (got %q)", format)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return eris.Wrapf(err, "score: read transcript %s", args[0])
	}

	fw, err := loadFramework(frameworkPath)
	if err != nil {
		return err
	}

	var st store.Store
	if save {
		st, err = initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	// A saved call follows the active rule version unless --rules names a
	// label itself. The version reference is stored only when that version's
	// rules produced the score.
	label := rules
	var version *model.RuleVersion
	if label == "" && st != nil {
		if active, err := st.ActiveRuleVersion(ctx); err == nil {
			version = active
			label = ruleLabelOf(active)
		}
	}

	sc := scorer.New(scorer.RulesFor(rulesLabel(label)))
	breakdown, err := sc.Score(string(data), fw)
	if err != nil {
		return eris.Wrap(err, "score")
	}

	zap.L().Info("transcript scored",
		zap.String("file", args[0]),
		zap.String("rules", sc.Rules().Version),
		zap.Int("total", breakdown.Total),
	)

	call := &model.Call{
		Rep:        rep,
		Transcript: string(data),
		Breakdown:  *breakdown,
		Total:      breakdown.Total,
	}
	frameworkVersion := fw.Version
	call.FrameworkVersion = &frameworkVersion
	if version != nil {
		call.RuleVersionID = &version.ID
	}

	if save {
		if err := st.CreateCall(ctx, call); err != nil {
			return eris.Wrap(err, "score: save call")
		}
		fmt.Printf("Saved call %s\n", call.ID)
	}

	w, closeFn, err := outputWriter(outputPath)
	if err != nil {
		return err
	}
	defer closeFn()

	analysis := coach.Analyze(breakdown)

	if format == "json" {
		out := struct {
			Call      *model.Call        `json:"call"`
			Analysis  *coach.Analysis    `json:"analysis,omitempty"`
			Pivots    []coach.Suggestion `json:"pivots,omitempty"`
			MaxTotal  int                `json:"max_total"`
			RulesUsed string             `json:"rules_used"`
		}{Call: call, MaxTotal: breakdown.MaxTotal(), RulesUsed: sc.Rules().Version}
		if withCoach {
			lib, err := loadPivots()
			if err != nil {
				return err
			}
			out.Analysis = &analysis
			out.Pivots = lib.ForImprovements(analysis)
		}
		return writeJSON(w, out)
	}

	if err := writeBreakdownTable(w, breakdown); err != nil {
		return err
	}
	if withCoach {
		lib, err := loadPivots()
		if err != nil {
			return err
		}
		printAnalysis(w, analysis)
		printSuggestions(w, lib.ForImprovements(analysis))
	}
	return nil
}
