package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "plantwatch/internal/api/http"
	"plantwatch/internal/archive"
	archivebadger "plantwatch/internal/archive/badger"
	archivepostgres "plantwatch/internal/archive/postgres"
	"plantwatch/internal/audit"
	"plantwatch/internal/auth"
	"plantwatch/internal/config"
	"plantwatch/internal/daq/bus"
	"plantwatch/internal/engine"
	"plantwatch/internal/observability/logging"
	"plantwatch/internal/observability/metrics"
	scanbadger "plantwatch/internal/scan/badger"
	scanpostgres "plantwatch/internal/scan/postgres"
	"plantwatch/internal/storage/badgerdb"
	"plantwatch/internal/storage/postgres"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("plantwatch: %v", err)
		os.Exit(1)
	}
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	model, err := cfg.Hierarchy.Build()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "configuration ok\n")
	fmt.Fprintf(out, "  supervised entities: %d\n", len(model.Records))
	fmt.Fprintf(out, "  tags:                %d\n", len(model.Tags))
	fmt.Fprintf(out, "  alive timers:        %d\n", len(model.Timers))
	fmt.Fprintf(out, "  alarms:              %d\n", len(model.Alarms))
	fmt.Fprintf(out, "  commands:            %d\n", len(model.Commands))
	fmt.Fprintf(out, "  scan marker:         %s\n", cfg.Engine.ScanMarker)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := cfg.Hierarchy.Build()
	if err != nil {
		return err
	}

	opts := engine.Options{Logger: logger}
	var history archive.HistoryReader

	if cfg.Database.DSN != "" {
		store, err := postgres.NewStore(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer store.Close()
		if cfg.Database.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("postgres migrate: %w", err)
			}
		}
		sink, err := archivepostgres.NewSink(store.Pool)
		if err != nil {
			return err
		}
		reader, err := archivepostgres.NewHistory(store.Pool)
		if err != nil {
			return err
		}
		history = reader
		opts.Sinks = append(opts.Sinks, sink)
		opts.Audit = audit.NewRepository(store.Pool)
		if cfg.Engine.ScanMarker == "postgres" {
			if opts.Marker, err = scanpostgres.NewMarker(store.Pool); err != nil {
				return err
			}
		}
	}

	if cfg.Badger.Enabled() {
		db, err := badgerdb.Open(badgerdb.Config{Path: cfg.Badger.Path, InMemory: cfg.Badger.InMemory, Logger: logger})
		if err != nil {
			return err
		}
		defer closeBadger(db, logger)
		snapshot, err := archivebadger.NewSnapshot(db)
		if err != nil {
			return err
		}
		opts.Sinks = append(opts.Sinks, snapshot)
		opts.Snapshot = snapshot
		if cfg.Engine.ScanMarker == "badger" {
			if opts.Marker, err = scanbadger.NewMarker(db); err != nil {
				return err
			}
		}
	}

	if cfg.NATS.URL != "" {
		communicator, err := bus.Connect(cfg.NATS.URL,
			bus.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			bus.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer communicator.Close()
		opts.Communicator = communicator
	} else {
		logger.Warn("no acquisition transport configured, commands will fail and updates arrive over HTTP only")
	}

	eng, err := engine.New(ctx, cfg, model, opts)
	if err != nil {
		return err
	}
	routes, err := eng.Routes()
	if err != nil {
		return err
	}

	var authMiddleware *auth.Middleware
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return err
		}
		authMiddleware = auth.NewMiddleware(verifier, auth.NewDefaultPolicy("/healthz", "/readyz", "/metrics"), logger)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: apihttp.NewRouter(apihttp.RouterConfig{
			Routes:  routes,
			History: apihttp.NewHistoryHandler(history),
			Auth:    authMiddleware,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("operator api listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("plantwatch stopped")
	return err
}

func closeBadger(db *badger.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("badger close failed", zap.Error(err))
	}
}
