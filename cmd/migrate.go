package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Apply the schema for calls, score history, rule versions, and
pivot prompts. With --seed the pivot prompt library is loaded into the
database, skipping prompts already present.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))

		if migrateSeed {
			lib, err := loadPivots()
			if err != nil {
				return err
			}
			if err := st.SeedPivotPrompts(ctx, lib.All()); err != nil {
				return err
			}
			fmt.Println("Pivot prompts seeded.")
		}

		fmt.Println("Migrations complete.")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "seed pivot prompts from the library")
	rootCmd.AddCommand(migrateCmd)
}
