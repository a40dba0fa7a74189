package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/order-extractor/internal/app"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract one document and print the terminal run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtract,
	}
	cmd.Flags().Bool("retry", false, "bypass the result cache")
	cmd.Flags().Bool("force-llm", false, "escalate to the model even when the rule-based result is confident")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	root := filepath.Dir(abs)
	doc, err := documentFor(root, filepath.Base(abs), tenantFlag(cmd))
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, logger, app.Options{StorageRoot: root})
	if err != nil {
		return err
	}
	defer a.Close()

	retry, _ := cmd.Flags().GetBool("retry")
	force, _ := cmd.Flags().GetBool("force-llm")

	var run entity.ExtractionRun
	if retry || force {
		run, err = a.Processor.RetryExtraction(ctx, doc, force)
	} else {
		run, err = a.Processor.RunExtraction(ctx, doc)
	}
	if err != nil {
		logger.Warn("run not recorded", "run_id", run.ID, "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	if run.Error != nil {
		return fmt.Errorf("extraction failed: %s: %s", run.Error.Code, run.Error.Message)
	}
	return nil
}
