// Package app wires the scan loop and the query server into one process.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"taskwatch/internal/api"
	"taskwatch/internal/chain"
	"taskwatch/internal/checkpoint"
	"taskwatch/internal/config"
	"taskwatch/internal/scanner"
	"taskwatch/internal/tasks"
	"taskwatch/internal/util"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

func (a *App) Run(ctx context.Context) error {
	var client *chain.Client
	err := util.Retry(ctx, a.logger, "dial rpc", 3, 500*time.Millisecond, func() error {
		var err error
		client, err = chain.Dial(a.cfg.RPC.HTTP, a.cfg.Scan.RequestTimeout.Duration)
		return err
	})
	if err != nil {
		return err
	}
	defer client.Close()

	var store *tasks.Store
	err = util.Retry(ctx, a.logger, "open store", 3, 500*time.Millisecond, func() error {
		var err error
		store, err = tasks.Open(a.cfg.Store.DSN)
		return err
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return err
	}

	sc, err := scanner.New(a.logger, client,
		common.HexToAddress(a.cfg.Contracts.StakePlanHub),
		common.HexToAddress(a.cfg.Contracts.Bridge))
	if err != nil {
		return err
	}

	recorder := tasks.NewRecorder(a.logger, store, a.cfg.MinAmount())
	cp := checkpoint.New(a.cfg.Checkpoint.Path)
	loop := NewLoop(a.logger, client, sc, recorder, cp,
		a.cfg.Window.Start.Time, a.cfg.Window.End.Time,
		a.cfg.Scan.ChunkSize, a.cfg.Scan.PollInterval.Duration)

	server := api.NewServer(a.cfg.API.Listen, a.logger, store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		err := server.Start(gctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			stats := recorder.Stats()
			a.logger.Info("shut down",
				"recorded", stats.Recorded, "dropped", stats.Dropped,
				"insert_failures", stats.InsertFailures)
			return nil
		}
		return err
	}

	stats := recorder.Stats()
	a.logger.Info("scan finished",
		"recorded", stats.Recorded, "dropped", stats.Dropped,
		"insert_failures", stats.InsertFailures)
	return nil
}
