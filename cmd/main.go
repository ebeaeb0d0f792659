package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"archivesampler/internal/app"
	"archivesampler/internal/config"
	"archivesampler/internal/logger"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "archivesampler",
	Short: "Extract metadata from a systematic sample of archived XML records",
	Long: `Draws a reproducible systematic sample from a population of XML records
stored inside compressed containers, extracts structural metadata from each
sampled record and writes a table, a sample manifest and a run summary.
Runs are checkpointed and can be resumed.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSample(cmd, false)
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Compute the sample and write its manifest without extracting",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSample(cmd, true)
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the sample size under every policy",
	RunE:  runSize,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(sampleCmd, sizeCmd)
}

// setup loads configuration and builds the logger and runner.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, *app.Runner, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	runner, err := app.New(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, nil, fmt.Errorf("failed to create runner: %w", err)
	}
	return cfg, log, runner, nil
}

func runSample(cmd *cobra.Command, dryRun bool) error {
	cfg, log, runner, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	if dryRun {
		cfg.DryRun = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, finishing in-flight records...")
			cancel()
		case <-ctx.Done():
		}
	}()

	_, err = runner.Run(ctx)

	if closeErr := runner.Close(); closeErr != nil {
		log.Error("Error closing runner", zap.Error(closeErr))
	}
	return err
}

func runSize(cmd *cobra.Command, args []string) error {
	cfg, log, runner, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer runner.Close()

	decisions, err := runner.Sizes(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, d := range decisions {
		fmt.Fprintf(out, "%-8s n=%-6d formula=%d z=%.4f n0=%.2f corrected=%.2f\n",
			d.Policy, d.Size, d.Formula.SampleSize, d.Formula.Z, d.Formula.Infinite, d.Formula.Corrected)
	}
	if cfg.Sampling.Population > 0 {
		fmt.Fprintf(out, "population %s\n", humanize.Comma(cfg.Sampling.Population))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
