package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/app"
	"github.com/joseph-ayodele/order-extractor/internal/core/async"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Extract every supported document under a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	cmd.Flags().Int("workers", 4, "concurrent extractions")
	cmd.Flags().Duration("timeout", 3*time.Minute, "per-document timeout")
	cmd.Flags().Bool("force-llm", false, "escalate every document to the model")
	cmd.Flags().String("xlsx", "", "write every run to this review workbook")
	return cmd
}

// batchSummary counts terminal runs by outcome.
type batchSummary struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	escalated int
	unsaved   int
	byCode    map[string]int
	runs      []entity.ExtractionRun
}

func (s *batchSummary) add(r async.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r.Run)
	if r.Err != nil {
		s.unsaved++
	}
	switch r.Run.Status {
	case constants.RunStatusSucceeded:
		s.succeeded++
		if r.Run.Metrics.LLMCalls > 0 {
			s.escalated++
		}
	default:
		s.failed++
		if r.Run.Error != nil {
			if s.byCode == nil {
				s.byCode = map[string]int{}
			}
			s.byCode[r.Run.Error.Code]++
		}
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	files, err := scanDir(root)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no supported documents found")
		return nil
	}

	a, err := app.Build(ctx, cfg, logger, app.Options{StorageRoot: root})
	if err != nil {
		return err
	}
	defer a.Close()

	workers, _ := cmd.Flags().GetInt("workers")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	force, _ := cmd.Flags().GetBool("force-llm")

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("extracting"),
	)

	var summary batchSummary
	q := async.NewProcessorQueue(a.Processor, logger,
		async.WithWorkers(workers),
		async.WithProcessTimeout(timeout),
		async.WithResultHandler(func(r async.Result) {
			summary.add(r)
			_ = bar.Add(1)
		}),
	)

	tenantID := tenantFlag(cmd)
	for _, rel := range files {
		doc, err := documentFor(root, rel, tenantID)
		if err != nil {
			logger.Warn("skipping file", "path", rel, "error", err)
			_ = bar.Add(1)
			continue
		}
		if err := q.Enqueue(ctx, async.Job{Document: doc, ForceLLM: force}); err != nil {
			logger.Warn("enqueue stopped", "error", err)
			break
		}
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout+30*time.Second)
	defer cancel()
	q.Shutdown(drainCtx)
	_ = bar.Finish()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d documents: %d succeeded (%d via model), %d failed, %d not recorded\n",
		len(files), summary.succeeded, summary.escalated, summary.failed, summary.unsaved)
	for code, n := range summary.byCode {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", code, n)
	}
	if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
		if err := writeWorkbook(path, summary.runs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "review workbook written to %s\n", path)
	}
	return nil
}
