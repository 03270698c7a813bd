package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wnt/battled/internal/config"
	"github.com/wnt/battled/internal/database"
	"github.com/wnt/battled/internal/lock"
	"github.com/wnt/battled/internal/logger"
	"github.com/wnt/battled/internal/monitor"
	"github.com/wnt/battled/internal/pricefeed"
	"github.com/wnt/battled/internal/resolver"
	"github.com/wnt/battled/internal/rpc"
	"github.com/wnt/battled/internal/server"
	"github.com/wnt/battled/internal/settlement"
	chain "github.com/wnt/battled/internal/solana"
	"github.com/wnt/battled/internal/store"
	"golang.org/x/sync/errgroup"
)

// Long enough for an in-flight settlement to land
const shutdownTimeout = 5 * time.Minute

func main() {
	// Parse command-line arguments
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	// Load environment variables from the specified file
	if err := godotenv.Load(*envFile); err != nil {
		log.Warn().Str("path", *envFile).Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	baseLogger := logger.New(cfg.LogLevel)
	if err := run(cfg, baseLogger); err != nil {
		baseLogger.Fatal().Err(err).Msg("battled stopped with error")
	}
	baseLogger.Info().Msg("battled stopped")
}

func run(cfg config.Config, baseLogger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DSN())
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	defer sqlDB.Close()
	repo := store.New(db, baseLogger)

	pool, err := rpc.NewPool(cfg.RPCEndpoints, cfg.RPCRateLimit, cfg.RPCBurst, baseLogger)
	if err != nil {
		return err
	}
	client := rpc.NewClient(pool, baseLogger)

	key, err := chain.LoadWallet(cfg.WalletKeypairPath, cfg.WalletPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to load settlement wallet: %w", err)
	}
	sender := chain.NewSender(client, key, baseLogger, chain.WithPriorityFee(cfg.PriorityFeeMicroLamports))

	dbcConfig, err := solana.PublicKeyFromBase58(cfg.DBCConfig)
	if err != nil {
		return fmt.Errorf("invalid DBC_CONFIG %q: %w", cfg.DBCConfig, err)
	}
	var platformPool solana.PublicKey
	if cfg.MainTokenPoolAddress != "" {
		if platformPool, err = solana.PublicKeyFromBase58(cfg.MainTokenPoolAddress); err != nil {
			return fmt.Errorf("invalid MAIN_TOKEN_POOL_ADDRESS %q: %w", cfg.MainTokenPoolAddress, err)
		}
	} else {
		baseLogger.Warn().Msg("MAIN_TOKEN_POOL_ADDRESS not set, platform buy leg disabled")
	}

	prices := pricefeed.New(cfg.SOLPriceURL, cfg.SOLPriceTTL, cfg.SOLPriceDefault, baseLogger)
	res := resolver.New(client, prices, dbcConfig, baseLogger)
	settler := settlement.New(client, sender, cfg.SwapSlippageBps, baseLogger)

	var options []monitor.Option
	serverOptions := []server.Option{server.WithEndpointStats(pool)}
	if cfg.RedisURL != "" {
		locker, err := lock.NewClient(cfg.RedisURL, baseLogger)
		if err != nil {
			return err
		}
		defer locker.Close()
		options = append(options, monitor.WithLocker(locker, cfg.LockTTL))
		serverOptions = append(serverOptions, server.WithRedis(locker))
	} else {
		baseLogger.Info().Msg("REDIS_URL not set, running without pass lock")
	}

	mon := monitor.New(repo, res, settler, monitor.Config{
		Interval:      cfg.MonitorInterval,
		BatchSize:     cfg.MonitorBatchSize,
		BatchDelay:    cfg.MonitorBatchDelay,
		TokenDelay:    cfg.MonitorTokenDelay,
		PrecheckDelay: cfg.MonitorPrecheckDelay,
		PlatformPool:  platformPool,
	}, baseLogger, options...)

	srv := server.New(
		server.Config{Port: cfg.HTTPPort, APIKey: cfg.APIKey},
		mon, client, sender.Payer(), baseLogger,
		serverOptions...,
	)

	baseLogger.Info().
		Str("wallet", sender.Payer().String()).
		Int("rpc_endpoints", len(cfg.RPCEndpoints)).
		Str("dbc_config", dbcConfig.String()).
		Bool("auto_start", cfg.AutoStart).
		Msg("battled starting")

	if cfg.AutoStart {
		if err := mon.Start(); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		baseLogger.Info().Msg("Shutting down")

		mon.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := mon.Wait(shutdownCtx); err != nil {
			return fmt.Errorf("monitor pass did not finish: %w", err)
		}
		return nil
	})
	return g.Wait()
}
