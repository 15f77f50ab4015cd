// Package app wires the workspace, session, API client, projector and
// transition client for one CLI invocation.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"scriptdesk/internal/api"
	"scriptdesk/internal/config"
	"scriptdesk/internal/db"
	"scriptdesk/internal/journal"
	"scriptdesk/internal/migrate"
	"scriptdesk/internal/notify"
	"scriptdesk/internal/projector"
	"scriptdesk/internal/repo"
	"scriptdesk/internal/session"
	"scriptdesk/internal/transition"
)

type Options struct {
	Workspace string
	// APIURL overrides api.base_url from scriptdesk.yml when set.
	APIURL     string
	Logger     *slog.Logger
	HTTPClient *http.Client
}

type App struct {
	Config      *config.Config
	DB          *sql.DB
	Repo        repo.Repo
	Journal     journal.Writer
	Session     *session.Context
	API         *api.Client
	Projector   *projector.Projector
	Transitions *transition.Client
	Notifier    *notify.Dispatcher
	Logger      *slog.Logger
}

// Open loads config, migrates the workspace database and restores any
// persisted session.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.APIURL != "" {
		cfg.API.BaseURL = opts.APIURL
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("--api-url: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Debug("workspace migrated", "applied", applied)
	}

	r := repo.Repo{DB: conn}
	j := journal.Writer{Repo: r}
	sess := session.New(session.SQLStore{Repo: r}, j, logger)
	if err := sess.Restore(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	client := api.New(cfg.API.BaseURL, sess)
	client.Timeout = cfg.API.Timeout
	client.Statuses = cfg.StatusMapping().WithLogger(logger)
	client.Strict = cfg.Statuses.Strict
	client.Logger = logger
	client.HTTPClient = opts.HTTPClient
	if cfg.API.RequestsPerSecond > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(cfg.API.RequestsPerSecond), cfg.API.Burst)
	}

	proj := projector.New(client, j, logger, cfg.Projector.RefreshConcurrency)
	notifier := notify.New(r, cfg.Webhooks, logger)
	notifier.Interval = cfg.Projector.PollInterval

	return &App{
		Config:      cfg,
		DB:          conn,
		Repo:        r,
		Journal:     j,
		Session:     sess,
		API:         client,
		Projector:   proj,
		Transitions: transition.New(client, sess, proj, j, logger),
		Notifier:    notifier,
		Logger:      logger,
	}, nil
}

func (a *App) Close() error {
	a.Projector.CloseAll()
	return a.DB.Close()
}
