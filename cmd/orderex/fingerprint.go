package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/order-extractor/internal/app"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <file>...",
		Short: "Print the layout fingerprint of each document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
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
				fp, err := a.Processor.Fingerprint(ctx, doc)
				a.Close()
				if err != nil {
					return err
				}
				if fp == "" {
					fp = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", fp, arg)
			}
			return nil
		},
	}
}
