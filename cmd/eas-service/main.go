package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellar/go/keypair"
	"go.uber.org/zap"

	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/api"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/config"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/indexer"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/ledger"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/store"
	"github.com/LelloTereciani/Projeto-EAS-Soroban/internal/submitter"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting service",
		zap.String("name", cfg.Service.Name),
		zap.String("rpc_endpoint", cfg.Soroban.Endpoint),
		zap.String("contract_id", cfg.Soroban.ContractID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()
	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Postgres.Host),
		zap.String("database", cfg.Postgres.Database),
	)

	rpcClient := ledger.NewClient(cfg.Soroban.Endpoint, cfg.Soroban.ContractID)
	if latest, err := rpcClient.LatestLedger(ctx); err != nil {
		logger.Warn("initial RPC connection test failed", zap.Error(err))
	} else {
		logger.Info("connected to Soroban RPC", zap.Uint32("latest_ledger", latest))
	}

	signer, err := keypair.ParseFull(cfg.Submitter.SignerSecret)
	if err != nil {
		logger.Fatal("invalid signer secret", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	metrics := indexer.NewMetrics(registry)

	rec := indexer.NewReconciler(st, logger.Named("reconciler"))
	poller := indexer.NewPoller(rpcClient, rec, st, indexer.Options{
		Interval:        time.Duration(cfg.Indexer.PollIntervalSeconds) * time.Second,
		BatchLimit:      cfg.Indexer.BatchLimit,
		StartLedger:     cfg.Indexer.StartLedger,
		BackfillLedgers: cfg.Indexer.BackfillLedgers,
	}, logger.Named("indexer"), metrics)

	sub := submitter.New(rpcClient, st, cfg.Soroban.ContractID, cfg.Soroban.NetworkPassphrase, submitter.Options{
		MaxSendAttempts:    cfg.Submitter.MaxSendAttempts,
		StatusPollAttempts: cfg.Submitter.StatusPollAttempts,
		StatusPollInterval: time.Duration(cfg.Submitter.StatusPollMillis) * time.Millisecond,
	}, logger.Named("submitter"))

	writer := api.NewSignerWriter(sub, signer)
	server := api.NewServer(cfg.Service.APIPort, st, writer, rec, registry, logger.Named("api"))

	go poller.Run(ctx)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("API server error", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.Format == "console" {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
