package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/cardsettle/bridge/internal/chain"
	"github.com/cardsettle/bridge/internal/config"
	"github.com/cardsettle/bridge/internal/db"
	"github.com/cardsettle/bridge/internal/handlers"
	"github.com/cardsettle/bridge/internal/locks"
	"github.com/cardsettle/bridge/internal/planner"
	"github.com/cardsettle/bridge/internal/repository"
	"github.com/cardsettle/bridge/internal/service"
	"github.com/cardsettle/bridge/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting settlement bridge",
		"port", cfg.Server.Port,
		"chain_id", cfg.Chain.ChainID,
		"log_level", cfg.Logger.Level,
	)

	ctx := context.Background()
	database, err := db.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, logger)
	if err != nil {
		logger.Error("failed to dial chain rpc", "error", err)
		os.Exit(1)
	}
	defer chainClient.Close()

	keeper, err := chain.NewKeeper(chainClient, cfg.Chain.KeeperPrivateKey, cfg.Chain.ChainID, cfg.Chain.ReceiptTimeout, logger)
	if err != nil {
		logger.Error("failed to create keeper", "error", err)
		os.Exit(1)
	}
	issuer, err := chain.NewIssuerSigner(cfg.Chain.IssuerPrivateKey, cfg.Chain.ChainID, cfg.Chain.IssuerChecker)
	if err != nil {
		logger.Error("failed to create issuer signer", "error", err)
		os.Exit(1)
	}
	logger.Info("chain identities loaded", "keeper", keeper.Address(), "issuer", issuer.Address())

	collectors := make([]common.Address, 0, len(cfg.Chain.CollectorAddresses))
	for _, address := range cfg.Chain.CollectorAddresses {
		collectors = append(collectors, common.HexToAddress(address))
	}

	cards := repository.NewCardRepository(database)
	operations := repository.NewOperationRepository(database)
	lockRegistry := locks.NewRegistry(cfg.Planner.LockTimeout, cfg.Planner.MaxLockWaiters)
	callPlanner := planner.New(
		issuer,
		chainClient,
		common.HexToAddress(cfg.Chain.PreviewerAddress),
		cfg.Planner.MaturityInterval,
		cfg.Planner.MinBorrowInterval,
	)

	authorizer := service.NewAuthorizationService(
		cards,
		lockRegistry,
		callPlanner,
		chainClient,
		keeper.Address(),
		common.HexToAddress(cfg.Chain.USDCAddress),
		collectors,
		logger,
	)
	settler := service.NewClearingService(
		cards,
		operations,
		lockRegistry,
		callPlanner,
		chainClient,
		keeper,
		logger,
	)

	runner := cron.New()
	reconciler := worker.NewReconciler(operations, chainClient, cfg.Worker.ReconcileBatch, logger)
	if _, err := reconciler.Schedule(runner, cfg.Worker.ReconcileSpec); err != nil {
		logger.Error("failed to schedule receipt reconciler", "error", err)
		os.Exit(1)
	}
	runner.Start()
	defer runner.Stop()

	handler := handlers.New(authorizer, settler, logger)
	router := handlers.NewRouter(handler, cfg.Provider.PandaSignatureKey, cfg.Provider.CryptomateWebhookKey, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
