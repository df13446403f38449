package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/callcoach/internal/rescore"
)

var (
	rescoreVersion   string
	rescoreFramework string
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore <call-id>",
	Short: "Re-score a call under a rule version",
	Long: `Re-run the scorer on a call's stored transcript and replace its
current score. With --version the named rule version is used; otherwise
the active version, falling back to baseline rules when none is active.
A history entry is recorded when the breakdown changed under a known
rule version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fw, err := loadFramework(rescoreFramework)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		orch := rescore.New(st, st, frameworkResolver(fw))
		result, err := orch.Rescore(ctx, args[0], rescoreVersion)
		if err != nil {
			return err
		}

		if err := writeBreakdownTable(os.Stdout, result.Breakdown); err != nil {
			return err
		}
		if result.HistoryWritten {
			fmt.Println("\nHistory entry recorded.")
		} else {
			fmt.Println("\nScore unchanged, no history entry.")
		}
		return nil
	},
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreVersion, "version", "", "rule version ID (default: active version)")
	rescoreCmd.Flags().StringVar(&rescoreFramework, "framework", "", "framework YAML file")
	rootCmd.AddCommand(rescoreCmd)
}
