package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ratescope/internal/chain"
	"ratescope/internal/checkpoint"
	"ratescope/internal/config"
	"ratescope/internal/ingest"
	"ratescope/internal/ledger/postgres"
	"ratescope/internal/oracle"
	"ratescope/internal/syncer"
	"ratescope/internal/vamm"
)

func main() {
	root := &cobra.Command{
		Use:          "syncer",
		Short:        "LP position sync engine for interest-rate vAMMs",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync loop",
		RunE:  runSyncer,
	}

	runCmd.Flags().String("rpc", "", "EVM RPC URL")
	runCmd.Flags().String("redis-addr", "localhost:6379", "redis address for cursors")
	runCmd.Flags().String("redis-password", "", "redis password")
	runCmd.Flags().Int("redis-db", 0, "redis database")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for the position ledger")
	runCmd.Flags().String("amms", "./config/amms.yaml", "AMM definition file")
	runCmd.Flags().String("process", "lp_sync", "sync process name (cursor namespace)")
	runCmd.Flags().Duration("poll-interval", 30*time.Second, "delay between sync passes")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per log query")
	runCmd.Flags().Int("max-concurrent", 4, "AMMs synced in parallel")
	runCmd.Flags().StringSlice("allowed-owners", nil, "restrict sync to these LP addresses (comma-separated)")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSyncer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pools, err := config.LoadAMMs(cfg.AMMsFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	cursors, err := checkpoint.NewRedisStore(ctx, checkpoint.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer cursors.Close()

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	decoder, err := vamm.NewDecoder()
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	rateOracle := oracle.NewChainOracle(chainClient)

	engineCfg := syncer.Config{
		Process:    cfg.Process,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryBackoff,
	}

	engines := make([]*syncer.Engine, 0, len(pools))
	for _, pool := range pools {
		ingestor, err := ingest.NewIngestor(ingest.Config{
			BatchSize:     cfg.BatchSize,
			AllowedOwners: cfg.AllowedOwners,
		}, chainClient, decoder, cursors, logger)
		if err != nil {
			return fmt.Errorf("build ingestor for %s: %w", pool.VAMMAddress, err)
		}

		engine, err := syncer.NewEngine(engineCfg, pool, ingestor, store, rateOracle, cursors, logger)
		if err != nil {
			return fmt.Errorf("build engine for %s: %w", pool.VAMMAddress, err)
		}
		engines = append(engines, engine)
	}

	driver, err := syncer.NewDriver(engines, cfg.MaxConcurrent, cfg.PollInterval, logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	logger.Info("syncer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("process", cfg.Process),
		zap.Int("amms", len(pools)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
	)

	err = driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
