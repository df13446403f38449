package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/callcoach/internal/model"
	"github.com/sells-group/callcoach/internal/scorer"
	"github.com/sells-group/callcoach/internal/store"
)

var (
	batchLimit       int
	batchConcurrency int
	batchRules       string
	batchFramework   string
	batchRep         string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Score every transcript in a directory and save the calls",
	Long: `Score every *.txt transcript under a directory concurrently and
persist each call with its breakdown. A transcript that fails to score
is logged and skipped; the batch keeps going.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fw, err := loadFramework(batchFramework)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		files, err := transcriptFiles(args[0])
		if err != nil {
			return err
		}

		// The batch follows the active rule version unless --rules names a
		// label itself; the version reference is stored only when its rules
		// produced the scores.
		label := batchRules
		var ruleVersionID *string
		if label == "" {
			if active, err := st.ActiveRuleVersion(ctx); err == nil {
				ruleVersionID = &active.ID
				label = ruleLabelOf(active)
			}
		}

		sc := scorer.New(scorer.RulesFor(rulesLabel(label)))
		return processBatch(ctx, st, sc, fw, files, ruleVersionID)
	},
}

func init() {
	f := batchCmd.Flags()
	f.IntVar(&batchLimit, "limit", 0, "max number of transcripts to process (0=all)")
	f.IntVar(&batchConcurrency, "concurrency", 4, "max concurrent scoring workers")
	f.StringVar(&batchRules, "rules", "", "rule version label (default from config)")
	f.StringVar(&batchFramework, "framework", "", "framework YAML file")
	f.StringVar(&batchRep, "rep", "", "sales rep name recorded on every call")

	rootCmd.AddCommand(batchCmd)
}

// transcriptFiles lists *.txt files in dir in name order so batches are
// reproducible.
func transcriptFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// processBatch scores transcripts concurrently and saves each call.
// Individual failures do not abort the batch.
func processBatch(ctx context.Context, st store.Store, sc *scorer.Scorer, fw scorer.Framework, files []string, ruleVersionID *string) error {
	if len(files) == 0 {
		zap.L().Info("no transcripts found")
		return nil
	}

	if batchLimit > 0 && len(files) > batchLimit {
		files = files[:batchLimit]
	}

	zap.L().Info("processing batch",
		zap.Int("transcripts", len(files)),
		zap.Int("concurrency", batchConcurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	var succeeded, failed atomic.Int64

	for _, file := range files {
		g.Go(func() error {
			log := zap.L().With(zap.String("file", file))

			data, err := os.ReadFile(file)
			if err != nil {
				failed.Add(1)
				log.Error("read transcript failed", zap.Error(err))
				return nil
			}

			breakdown, err := sc.Score(string(data), fw)
			if err != nil {
				failed.Add(1)
				log.Error("scoring failed", zap.Error(err))
				return nil
			}

			frameworkVersion := fw.Version
			call := &model.Call{
				Rep:              batchRep,
				Transcript:       string(data),
				Breakdown:        *breakdown,
				Total:            breakdown.Total,
				RuleVersionID:    ruleVersionID,
				FrameworkVersion: &frameworkVersion,
			}
			if err := st.CreateCall(gctx, call); err != nil {
				failed.Add(1)
				log.Error("save call failed", zap.Error(err))
				return nil
			}

			succeeded.Add(1)
			log.Info("call scored",
				zap.String("call_id", call.ID),
				zap.Int("total", breakdown.Total),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	fmt.Printf("Batch complete: %d scored, %d failed\n", succeeded.Load(), failed.Load())
	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
