// Command orderex runs local order documents through the extraction engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/order-extractor/internal/common"
)

var (
	cfgFile string
	v       = common.NewViper()
	cfg     *common.Config
	logger  *slog.Logger

	rootCmd = &cobra.Command{
		Use:               "orderex",
		Short:             "Extract structured orders from spreadsheets, CSV and PDF documents",
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("tenant", "local", "tenant id the documents belong to")

	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(fingerprintCmd())
	rootCmd.AddCommand(runsCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	loaded, err := common.LoadConfigFrom(v, cfgFile)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	l, err := common.NewLogger(os.Stderr, loaded.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(l)
	cfg, logger = loaded, l
	return nil
}

func tenantFlag(cmd *cobra.Command) string {
	t, _ := cmd.Flags().GetString("tenant")
	return t
}
