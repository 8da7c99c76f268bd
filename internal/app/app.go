// Package app assembles the service from configuration. The API binary, the
// worker binary and the operator CLI all build on the same App.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/sonoral/internal/api"
	"github.com/dharsanguruparan/sonoral/internal/config"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/ingest"
	"github.com/dharsanguruparan/sonoral/internal/pathalloc"
	"github.com/dharsanguruparan/sonoral/internal/processing"
	"github.com/dharsanguruparan/sonoral/internal/queue"
	"github.com/dharsanguruparan/sonoral/internal/reconcile"
	"github.com/dharsanguruparan/sonoral/internal/repository"
	"github.com/dharsanguruparan/sonoral/internal/s3storage"
	"github.com/dharsanguruparan/sonoral/internal/storage"
	"github.com/dharsanguruparan/sonoral/internal/worker"
)

// MetadataStore is everything the service reads and writes through a lease.
type MetadataStore interface {
	ingest.AssetStore
	api.UserStore
	api.CompositionStore
	reconcile.PathIndex
}

// App holds the long-lived dependencies.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Backend storage.Backend
	Pool    *database.Pool
	Store   MetadataStore

	pgx *pgxpool.Pool
}

// New opens storage and the metadata store described by cfg. With the
// postgres driver the schema is created before New returns.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Backend: backend}

	opts := database.Options{MaxConns: cfg.Pool.MaxConns, AcquireTimeout: cfg.Pool.AcquireTimeout}
	switch cfg.Metadata.Driver {
	case "memory":
		a.Store = repository.NewMemory()
		a.Pool = database.NewPool(log, database.StaticSource{}, opts)
	default:
		pg, err := database.Connect(ctx, cfg.Metadata.DatabaseURL, database.PoolConfig{
			MinConns:        int32(cfg.Pool.MinConns),
			MaxConns:        int32(cfg.Pool.MaxConns),
			MaxConnIdleTime: cfg.Pool.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.pgx = pg
		a.Store = repository.NewPostgres()
		a.Pool = database.NewPool(log, database.PgxSource{Pool: pg}, opts)
	}
	return a, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	if cfg.Backend == "s3" {
		s3, err := s3storage.New(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := storage.NewLocal(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	return local, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.pgx != nil {
		a.pgx.Close()
	}
}

// Migrate creates the tables when the postgres driver is in use.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgx == nil {
		return nil
	}
	return a.Pool.WithLease(ctx, func(q database.Querier) error {
		return database.EnsureSchema(ctx, q)
	})
}

// Sweeper reconciles storage against the metadata store.
func (a *App) Sweeper() *reconcile.Sweeper {
	return reconcile.New(a.Log.Named("reconcile"), a.Backend, a.Store, a.Pool)
}

// Coordinator builds the ingestion coordinator around reclaim.
func (a *App) Coordinator(reclaim ingest.Reclaimer) *ingest.Coordinator {
	alloc := pathalloc.New(a.Backend, a.Config.Storage.AllowedExtensions)
	return ingest.New(a.Log.Named("ingest"), alloc, a.Backend, a.Store, reclaim)
}

func (a *App) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Reclaim.RedisAddr,
		Password: a.Config.Reclaim.RedisPassword,
		DB:       a.Config.Reclaim.RedisDB,
	}
}

// RunAPI serves HTTP until ctx is cancelled. Orphans go to asynq when a redis
// address is configured and to an in-process queue otherwise.
func (a *App) RunAPI(ctx context.Context) error {
	if err := a.Migrate(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)

	var reclaim ingest.Reclaimer
	if a.Config.Reclaim.RedisAddr != "" {
		client := asynq.NewClient(a.redisOpt())
		defer client.Close()
		reclaim = queue.NewReclaimer(client, a.Config.Reclaim.Grace)
	} else {
		proc := processing.New(a.Log.Named("reclaim"), a.Sweeper(), a.Config.Reclaim.Workers, a.Config.Reclaim.QueueSize, a.Config.Reclaim.Grace)
		g.Go(func() error { return proc.Run(ctx) })
		reclaim = proc
	}

	srv := api.New(a.Config, a.Log.Named("api"), a.Pool, a.Coordinator(reclaim), a.Store, a.Store)
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

// RunWorker consumes reclaim tasks from asynq until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	if a.Config.Reclaim.RedisAddr == "" {
		return errors.New("worker: reclaim.redis_addr is not set")
	}
	server := asynq.NewServer(a.redisOpt(), asynq.Config{
		Concurrency: a.Config.Reclaim.Workers,
	})
	mux := worker.NewProcessor(a.Log.Named("worker"), a.Sweeper()).Handler()

	if err := server.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	a.Log.Info("worker started", zap.Int("concurrency", a.Config.Reclaim.Workers))
	<-ctx.Done()
	server.Shutdown()
	return nil
}
