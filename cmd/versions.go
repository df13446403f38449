package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/callcoach/internal/model"
	"github.com/sells-group/callcoach/internal/scorer"
)

var (
	versionCreateLabel     string
	versionCreateFramework string
	versionCreateActivate  bool
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage scoring rule versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rule versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		versions, err := st.ListRuleVersions(ctx)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No rule versions. Create one with 'callcoach versions create'.")
			return nil
		}

		fmt.Printf("%-36s %-20s %-15s %-10s %-7s %s\n",
			"ID", "Name", "Label", "Framework", "Active", "Created")
		fmt.Println(strings.Repeat("-", 110))
		for _, v := range versions {
			fmt.Printf("%-36s %-20s %-15s %-10s %-7v %s\n",
				v.ID, v.Name, v.Label, v.FrameworkVersion, v.IsActive,
				v.CreatedAt.Format(time.DateOnly))
		}
		return nil
	},
}

var versionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a rule version",
	Long: `Create a rule version pointing at a built-in rule set label
(baseline-1.0 or strict-1.1). Existing scores are untouched; rescore
calls to apply the new version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		label := versionCreateLabel
		if label == "" {
			label = cfg.Scoring.DefaultRules
		}
		// Fail on labels that would silently score as baseline.
		if !scorer.KnownRules(label) {
			return eris.Errorf("versions: unknown rule set label %q", label)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		v := &model.RuleVersion{
			Name:             args[0],
			Label:            label,
			FrameworkVersion: versionCreateFramework,
		}
		if err := st.CreateRuleVersion(ctx, v); err != nil {
			return err
		}
		if versionCreateActivate {
			if err := st.SetActiveRuleVersion(ctx, v.ID); err != nil {
				return err
			}
			v.IsActive = true
		}

		fmt.Printf("Created rule version %s (label %s, active %v)\n", v.ID, v.Label, v.IsActive)
		return nil
	},
}

var versionsActivateCmd = &cobra.Command{
	Use:   "activate <version-id>",
	Short: "Make a rule version the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetActiveRuleVersion(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Activated rule version %s\n", args[0])
		return nil
	},
}

func init() {
	versionsCreateCmd.Flags().StringVar(&versionCreateLabel, "label", "", "built-in rule set label (default from config)")
	versionsCreateCmd.Flags().StringVar(&versionCreateFramework, "framework-version", "1.0", "framework version this rule set scores against")
	versionsCreateCmd.Flags().BoolVar(&versionCreateActivate, "activate", false, "make this the active version")

	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsCreateCmd)
	versionsCmd.AddCommand(versionsActivateCmd)
	rootCmd.AddCommand(versionsCmd)
}
