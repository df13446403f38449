package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/callcoach/internal/coach"
)

var (
	suggestCall      string
	suggestFromStore bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest [step-key]",
	Short: "Show pivot prompts for a framework step or a scored call",
	Long: `Show scripted pivot prompts. With a step key, print up to three
prompts for that step. With --call, analyze the call's current breakdown
and print prompts for each area needing improvement.

Examples:
  callcoach suggest qualify
  callcoach suggest --call 6f1d3c2a-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(args) == 0 && suggestCall == "" {
			return eris.New("suggest: provide a step key or --call")
		}

		lib, err := loadPivots()
		if err != nil {
			return err
		}

		if suggestCall != "" {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			call, err := st.GetCall(ctx, suggestCall)
			if err != nil {
				return err
			}

			analysis := coach.Analyze(&call.Breakdown)
			printAnalysis(os.Stdout, analysis)
			printSuggestions(os.Stdout, lib.ForImprovements(analysis))
			return nil
		}

		stepKey := args[0]
		if suggestFromStore {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			prompts, err := st.ListPivotPrompts(ctx, stepKey)
			if err != nil {
				return err
			}
			lib = coach.NewLibrary(map[string][]string{stepKey: prompts})
		}

		printSuggestions(os.Stdout, []coach.Suggestion{lib.Suggest(stepKey)})
		return nil
	},
}

func init() {
	suggestCmd.Flags().StringVar(&suggestCall, "call", "", "suggest pivots for a scored call's weak steps")
	suggestCmd.Flags().BoolVar(&suggestFromStore, "from-store", false, "read prompts from the database instead of the library file")
	rootCmd.AddCommand(suggestCmd)
}
