package main

import (
	"context"

	"github.com/destinyhacking/app/backend/internal/config"
	"github.com/destinyhacking/app/backend/internal/db"
	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/services"
	"github.com/destinyhacking/app/backend/internal/streak"
	syncpkg "github.com/destinyhacking/app/backend/internal/sync"
	"github.com/destinyhacking/app/backend/internal/sync/queue"
)

// app is the set of components every subcommand shares.
type app struct {
	cfg    config.Config
	db     *db.DB
	repo   *db.Repository
	client *syncpkg.TRPCClient
	queue  *queue.Queue
	calc   *streak.Calculator
	cycles *services.CycleService
}

// openApp opens the local database and wires the queue against the backend.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	database, err := db.OpenMigrated(ctx, cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "open database", err)
	}
	repo := db.NewRepository(database.DB)

	client := syncpkg.NewTRPCClient(&syncpkg.TRPCConfig{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
	})
	q := queue.New(repo, client.Registry(), &queue.Config{MaxRetries: cfg.Queue.MaxRetries})
	calc := streak.NewCalculator(loc, nil)

	return &app{
		cfg:    cfg,
		db:     database,
		repo:   repo,
		client: client,
		queue:  q,
		calc:   calc,
		cycles: services.NewCycleService(repo, q, calc),
	}, nil
}

// Close releases the database.
func (a *app) Close() error {
	a.repo.Close()
	return a.db.Close()
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, cfg config.Config, fn func(*app) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
