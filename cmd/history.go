package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/callcoach/internal/model"
)

var (
	historyFormat string
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history <call-id>",
	Short: "Show the score history ledger for a call",
	Long: `List every recorded score a call has held, oldest first. The
ledger is append-only: each entry captures the breakdown, total, rule
version, and framework version in effect when the score was replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if historyFormat != "table" && historyFormat != "json" && historyFormat != "xlsx" {
			return eris.Errorf("history: --format must be table, json or xlsx (got %q)", historyFormat)
		}
		if historyFormat == "xlsx" && historyOutput == "" {
			return eris.New("history: --output is required with --format xlsx")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		// Surface unknown calls before an empty ledger does.
		call, err := st.GetCall(ctx, args[0])
		if err != nil {
			return err
		}

		entries, err := st.ListHistory(ctx, call.ID)
		if err != nil {
			return err
		}

		switch historyFormat {
		case "json":
			w, closeFn, err := outputWriter(historyOutput)
			if err != nil {
				return err
			}
			defer closeFn()
			return writeJSON(w, entries)
		case "xlsx":
			return writeHistoryXLSX(historyOutput, call, entries)
		default:
			w, closeFn, err := outputWriter(historyOutput)
			if err != nil {
				return err
			}
			defer closeFn()
			return writeHistoryTable(w, call, entries)
		}
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyFormat, "format", "table", "output format: table, json or xlsx")
	historyCmd.Flags().StringVar(&historyOutput, "output", "", "output file path (default: stdout)")
	rootCmd.AddCommand(historyCmd)
}

func writeHistoryTable(w *os.File, call *model.Call, entries []model.HistoryEntry) error {
	fmt.Fprintf(w, "Call %s", call.ID)
	if call.Rep != "" {
		fmt.Fprintf(w, " (rep: %s)", call.Rep)
	}
	fmt.Fprintf(w, "\nCurrent total: %d\n\n", call.Total)

	if len(entries) == 0 {
		fmt.Fprintln(w, "No history entries.")
		return nil
	}

	header := fmt.Sprintf("%-20s %-36s %-10s %6s\n",
		"Recorded", "Rule Version", "Framework", "Total")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "history: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 78)); err != nil {
		return eris.Wrap(err, "history: write table separator")
	}

	for _, e := range entries {
		line := fmt.Sprintf("%-20s %-36s %-10s %6d\n",
			e.CreatedAt.Format(time.DateTime), e.RuleVersionID, e.FrameworkVersion, e.Total)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "history: write table row")
		}
	}
	return nil
}

// writeHistoryXLSX exports the ledger as a spreadsheet with one row per
// entry and a column per step credit.
func writeHistoryXLSX(path string, call *model.Call, entries []model.HistoryEntry) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Score History")
	if err != nil {
		return eris.Wrap(err, "history: add sheet")
	}

	// Step columns follow the current breakdown's order.
	var stepKeys []string
	for _, s := range call.Breakdown.Steps {
		stepKeys = append(stepKeys, s.StepKey)
	}

	header := sheet.AddRow()
	for _, h := range []string{"recorded_at", "rule_version_id", "framework_version", "total"} {
		header.AddCell().SetString(h)
	}
	for _, k := range stepKeys {
		header.AddCell().SetString(k)
	}

	for _, e := range entries {
		row := sheet.AddRow()
		row.AddCell().SetString(e.CreatedAt.Format(time.RFC3339))
		row.AddCell().SetString(e.RuleVersionID)
		row.AddCell().SetString(e.FrameworkVersion)
		row.AddCell().SetInt(e.Total)
		for _, k := range stepKeys {
			if step := e.Breakdown.Step(k); step != nil {
				row.AddCell().SetFloat(step.Credit)
			} else {
				row.AddCell().SetString("")
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "history: save %s", path)
	}
	fmt.Printf("Wrote %d history entries to %s\n", len(entries), path)
	return nil
}
