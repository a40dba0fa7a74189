package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/order-extractor/internal/app"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
	"github.com/joseph-ayodele/order-extractor/internal/export"
	repo "github.com/joseph-ayodele/order-extractor/internal/repository"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs <document-id>...",
		Short: "Check the run store and list the recorded runs of documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := app.ConnectDB(ctx, cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("opening run store: %w", err)
			}
			defer app.CloseDB(db, logger)

			if err := app.PingDB(ctx, db, logger, time.Second); err != nil {
				return fmt.Errorf("run store health: %w", err)
			}

			store := repo.NewRunRepository(db, logger)
			var all []entity.ExtractionRun
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOCUMENT\tRUN\tSTATUS\tVARIANT\tCONFIDENCE\tCREATED")
			for _, id := range args {
				runs, err := store.ListByDocument(ctx, id)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
						r.DocumentID, r.ID, r.Status, r.Variant, r.Confidence(), r.CreatedAt.Format(time.RFC3339))
				}
				all = append(all, runs...)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
				return writeWorkbook(path, all)
			}
			return nil
		},
	}
	cmd.Flags().String("xlsx", "", "also write the runs to this review workbook")
	return cmd
}

func writeWorkbook(path string, runs []entity.ExtractionRun) error {
	b, err := export.Workbook(runs, logger)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
