package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callcoach/internal/coach"
	"github.com/sells-group/callcoach/internal/model"
	"github.com/sells-group/callcoach/internal/scorer"
	"github.com/sells-group/callcoach/internal/store"
)

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "init store: migrate")
	}
	return st, nil
}

// loadFramework returns the framework from the --framework flag, the
// configured framework file, or the built-in default, in that order.
func loadFramework(flagPath string) (scorer.Framework, error) {
	path := flagPath
	if path == "" {
		path = cfg.Scoring.FrameworkFile
	}
	if path == "" {
		return scorer.DefaultFramework(), nil
	}
	return scorer.LoadFramework(path)
}

// loadPivots returns the pivot library from the configured file or the
// built-in default.
func loadPivots() (*coach.PivotLibrary, error) {
	if cfg.Scoring.PivotsFile == "" {
		return coach.DefaultLibrary(), nil
	}
	return coach.LoadLibrary(cfg.Scoring.PivotsFile)
}

// rulesLabel resolves the rule version label from a flag with config
// fallback.
func rulesLabel(flagLabel string) string {
	if flagLabel != "" {
		return flagLabel
	}
	return cfg.Scoring.DefaultRules
}

// ruleLabelOf returns the rule set label a stored version points at.
func ruleLabelOf(v *model.RuleVersion) string {
	if v.Label != "" {
		return v.Label
	}
	return v.Name
}

// frameworkResolver maps framework version labels to the configured
// framework so rescoring can honor the version a rule set was built for.
func frameworkResolver(fw scorer.Framework) func(label string) (scorer.Framework, bool) {
	return func(label string) (scorer.Framework, bool) {
		if label == fw.Version {
			return fw, true
		}
		return scorer.Framework{}, false
	}
}
