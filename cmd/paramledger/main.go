package main

import (
	"ParamLedger/internal/config"
	"ParamLedger/internal/core"
	"ParamLedger/internal/ingestion"
	"ParamLedger/internal/observability"
	"ParamLedger/internal/persistence"
	"ParamLedger/internal/projection"
	"ParamLedger/internal/query"
	"ParamLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("main", level)

	if err := run(cfg, level, logger); err != nil {
		logger.Fatal().Err(err).Msg("ParamLedger stopped")
	}
	logger.Info().Msg("ParamLedger shutdown complete")
}

func run(cfg config.Config, level zerolog.Level, logger zerolog.Logger) error {
	logger.Info().Msg("ParamLedger starting")
	componentLogger := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, os.DirFS(cfg.MigrationsDir), componentLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Deterministic core ---
	// The persist channel blocks the core when full; the projection channel
	// drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	metrics.ChannelCapacity.WithLabelValues("persist").Set(float64(cfg.PersistChanSize))
	metrics.ChannelCapacity.WithLabelValues("projection").Set(float64(cfg.ProjectionChanSize))

	deterministicCore := core.NewDeterministicCore(core.Config{
		LRUCapacity:        cfg.IdempotencyLRUCapacity,
		MaxOracleStaleness: cfg.OracleMaxStaleness,
		PersistChan:        persistChan,
		ProjectionChan:     projectionChan,
		DBChecker:          persistence.NewPostgresIdempotencyChecker(db),
		Metrics:            metrics,
		Logger:             componentLogger("core"),
	})

	// --- Recovery: snapshot + replay, then bring projections in line ---
	snapMgr := persistence.NewSnapshotManager(db)
	stats, err := persistence.Recover(ctx, snapMgr, deterministicCore, metrics, componentLogger("recovery"))
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := projection.Resync(ctx, db, deterministicCore.CreateSnapshotState()); err != nil {
		return fmt.Errorf("projection resync: %w", err)
	}

	// --- Workers ---
	// Workers run on their own context so shutdown can drain them after the
	// core has stopped.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var workers sync.WaitGroup
	errChan := make(chan error, 8)
	goWorker := func(name string, fn func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := fn(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistChan,
		cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, componentLogger("persistence"))
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, componentLogger("projection"))

	// --- NATS ---
	var subscriber *ingestion.NATSSubscriber
	submitChan := make(chan ingestion.Submission, cfg.SubmitChanSize)
	submitter := ingestion.NewCommandSubmitter(submitChan)

	if cfg.NATSEnabled {
		natsLogger := componentLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}

		publisher := ingestion.NewOutboundPublisher(js, cfg.PublishQueueSize, metrics, componentLogger("publisher"))
		persistWorker.OnFlush(publisher.Enqueue)
		goWorker("outbound publisher", publisher.Run)

		subscriber = ingestion.NewNATSSubscriber(js, submitter, metrics, natsLogger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
	} else {
		logger.Warn().Msg("NATS disabled, commands accepted over HTTP only")
	}

	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()
	goWorker("projection worker", projWorker.Run)

	// --- Core goroutine ---
	snapshots := make(chan *core.SnapshotState, 1)
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		runCoreLoop(ctx, deterministicCore, submitChan, snapshots, coreLoopConfig{
			interval:    cfg.SnapshotInterval,
			checkPeriod: cfg.SnapshotCheckPeriod,
		}, metrics)
	}()

	snapLogger := componentLogger("snapshot")
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		writeSnapshots(snapMgr, snapshots, metrics, snapLogger)
	}()

	// --- gRPC + HTTP ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		QueryService:  query.NewQueryService(db),
		Submitter:     submitter,
		SnapshotMgr:   snapMgr,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        componentLogger("server"),
		SubmitTimeout: cfg.SubmitTimeout,
	})
	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go func() {
		if err := serveMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	grpcServer.SetServing(true)
	logger.Info().
		Int64("next_sequence", deterministicCore.GetSequence()).
		Int64("snapshot_sequence", stats.SnapshotSequence).
		Int64("replayed", stats.Replayed).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("ParamLedger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// Stop intake, then the core, then drain the workers. The final snapshot
	// is captured once nothing else can touch the core.
	grpcServer.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()
	<-coreDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	close(persistChan)
	close(projectionChan)

	// The persistence worker exits once the closed channel is drained. The
	// publisher only stops on cancel, so it is stopped after that.
	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("persistence worker did not drain before the shutdown timeout")
	}
	stopWorkers()

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("workers did not stop before the shutdown timeout")
	}

	close(snapshots)
	<-snapDone
	final := deterministicCore.CreateSnapshotState()
	if final.Sequence == 0 {
		return runErr
	}
	if err := persistence.TakeSnapshot(shutdownCtx, snapMgr, final, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", final.Sequence).Msg("final snapshot saved")
	}
	return runErr
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
