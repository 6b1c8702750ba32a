package tasks

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"taskwatch/internal/metrics"
	"taskwatch/internal/scanner"
)

// Inserter is the store surface the recorder writes through.
type Inserter interface {
	Insert(ctx context.Context, rec Record) error
}

// Recorder turns decoded events into task rows. Events below the amount
// threshold are dropped, and a failed insert never aborts the chunk being
// scanned: it is logged with the store's error code, counted, and skipped so
// the remaining events still get their chance.
type Recorder struct {
	logger    *slog.Logger
	store     Inserter
	minAmount *big.Int

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

// Stats is a snapshot of the recorder's counters since process start.
type Stats struct {
	Recorded       uint64
	Dropped        uint64
	InsertFailures uint64
}

func NewRecorder(logger *slog.Logger, store Inserter, minAmount *big.Int) *Recorder {
	return &Recorder{logger: logger, store: store, minAmount: minAmount}
}

func (r *Recorder) RecordStake(ctx context.Context, ev scanner.StakeEvent) {
	r.record(ctx, Record{
		UserAddress: strings.ToLower(ev.User.Hex()),
		Task:        TaskMint,
		CompletedAt: time.Unix(int64(ev.BlockTime), 0).UTC(),
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    uint64(ev.LogIndex),
	}, ev.StakeAmount)
}

func (r *Recorder) RecordBurn(ctx context.Context, ev scanner.BurnEvent) {
	r.record(ctx, Record{
		UserAddress: strings.ToLower(ev.From.Hex()),
		Task:        TaskBridge,
		CompletedAt: time.Unix(int64(ev.BlockTime), 0).UTC(),
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    uint64(ev.LogIndex),
	}, ev.Amount)
}

func (r *Recorder) record(ctx context.Context, rec Record, amount *big.Int) {
	if amount == nil || amount.Cmp(r.minAmount) < 0 {
		r.dropped.Add(1)
		r.logger.Debug("dropping task below amount threshold",
			"user", rec.UserAddress, "task", rec.Task, "amount", amount)
		return
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		r.failures.Add(1)
		metrics.InsertFailures.Inc()
		code, message := storeError(err)
		r.logger.Error("task insert failed",
			"user", rec.UserAddress, "task", rec.Task, "tx", rec.TxHash,
			"code", code, "message", message)
		return
	}
	r.recorded.Add(1)
	metrics.TasksRecorded.WithLabelValues(rec.Task).Inc()
	r.logger.Info("task recorded",
		"user", rec.UserAddress, "task", rec.Task, "completed_at", rec.CompletedAt)
}

func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded:       r.recorded.Load(),
		Dropped:        r.dropped.Load(),
		InsertFailures: r.failures.Load(),
	}
}

func storeError(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.Message
	}
	return "", err.Error()
}
