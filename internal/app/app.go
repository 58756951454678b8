// Package app assembles the store, engine, collaborators and observers for a workspace.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aocr/internal/config"
	"aocr/internal/db"
	"aocr/internal/engine"
	"aocr/internal/engine/auth"
	"aocr/internal/events"
	"aocr/internal/logging"
	"aocr/internal/metrics"
	"aocr/internal/migrate"
	"aocr/internal/subflows"
)

// Options select the workspace and database for an App.
type Options struct {
	Workspace string
	Driver    string
	DSN       string
	Logger    *zap.Logger
	// Config overrides the workspace aocr.yml.
	Config *config.Config
	Now    func() time.Time
}

// App is a fully wired workspace.
type App struct {
	DB      *sql.DB
	Dialect db.Dialect
	Config  *config.Config
	Engine  engine.Engine
	Flows   subflows.Service
	Roles   auth.Service
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Open loads the config, opens and migrates the database and wires the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOrDefault(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	conn, dialect, err := db.Open(db.Config{Driver: opts.Driver, DSN: opts.DSN, Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	m := metrics.New()
	bus := events.NewBus(events.WithLogger(logger), events.WithMetrics(m))
	if n := events.SubscribeWebhooks(bus, cfg.Webhooks); n > 0 {
		logger.Info("webhooks subscribed", zap.Int("count", n))
	}

	eng := engine.New(conn, dialect, cfg)
	eng.Events = bus
	eng.Metrics = m
	eng.Logger = logger
	if opts.Now != nil {
		eng.Now = opts.Now
	}

	return &App{
		DB:      conn,
		Dialect: dialect,
		Config:  cfg,
		Engine:  eng,
		Flows:   subflows.New(eng),
		Roles:   auth.Service{Repo: eng.Repo, Config: cfg, Now: eng.Now},
		Bus:     bus,
		Metrics: m,
		Logger:  logger,
	}, nil
}

// Close drains the observers and closes the database.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	return errors.Join(a.Bus.Close(), a.DB.Close())
}
