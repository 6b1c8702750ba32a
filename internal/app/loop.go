package app

import (
	"context"
	"log/slog"
	"time"

	"taskwatch/internal/chain"
	"taskwatch/internal/metrics"
	"taskwatch/internal/scanner"
)

// ChainReader is the RPC surface the loop needs: chain head and block
// timestamps.
type ChainReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, n uint64) (uint64, error)
}

// EventScanner fetches and decodes both event kinds over an inclusive range.
type EventScanner interface {
	Scan(ctx context.Context, from, to uint64) ([]scanner.StakeEvent, []scanner.BurnEvent, error)
}

// TaskRecorder persists decoded events as task records. Recording never
// fails the chunk; insert errors are the recorder's to log and count.
type TaskRecorder interface {
	RecordStake(ctx context.Context, ev scanner.StakeEvent)
	RecordBurn(ctx context.Context, ev scanner.BurnEvent)
}

// Checkpoints is the durable progress marker.
type Checkpoints interface {
	Load() uint64
	Save(last uint64) error
	Last() uint64
}

// Loop drives the scan: it waits for the window's start to be crossed,
// processes chunked block ranges, persists the checkpoint after each chunk,
// and stops once the window's end has been passed.
//
// The loop moves through three states. Before the window opens it only polls
// block timestamps. Once the checkpoint block's timestamp is inside the
// window it starts consuming chunks. When a chunk's upper bound crosses the
// window end, the chunk is clamped to the exact end block and the loop
// finishes after persisting it.
type Loop struct {
	logger   *slog.Logger
	chain    ChainReader
	scanner  EventScanner
	recorder TaskRecorder
	cp       Checkpoints

	startTime uint64
	endTime   uint64
	chunkSize uint64
	interval  time.Duration

	tracking bool
}

func NewLoop(logger *slog.Logger, cr ChainReader, sc EventScanner, rec TaskRecorder, cp Checkpoints, start, end time.Time, chunkSize uint64, interval time.Duration) *Loop {
	return &Loop{
		logger:    logger,
		chain:     cr,
		scanner:   sc,
		recorder:  rec,
		cp:        cp,
		startTime: uint64(start.Unix()),
		endTime:   uint64(end.Unix()),
		chunkSize: chunkSize,
		interval:  interval,
	}
}

// Run polls until the configured window has been fully scanned or ctx is
// cancelled. Iteration failures are logged and retried on the next tick with
// the checkpoint untouched; cancellation between chunks returns
// context.Canceled with the last completed chunk already persisted.
func (l *Loop) Run(ctx context.Context) error {
	last := l.cp.Load()
	metrics.CheckpointBlock.Set(float64(last))
	l.logger.Info("scan loop starting",
		"checkpoint", last, "window_start", l.startTime, "window_end", l.endTime,
		"chunk_size", l.chunkSize, "poll_interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		done, err := l.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			metrics.ScanErrors.Inc()
			l.logger.Error("scan iteration failed", "error", err)
		}
		if done {
			l.logger.Info("scan window complete", "checkpoint", l.cp.Last())
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
		}
	}
}

// step runs one poll iteration. It returns true when the loop is finished
// for good. An error leaves all state (including the checkpoint) unchanged so
// the same work is retried next tick.
func (l *Loop) step(ctx context.Context) (bool, error) {
	if !l.tracking {
		return l.stepNotStarted(ctx)
	}
	return l.stepTracking(ctx)
}

func (l *Loop) stepNotStarted(ctx context.Context) (bool, error) {
	head, err := l.chain.HeadBlock(ctx)
	if err != nil {
		return false, err
	}
	metrics.ChainHead.Set(float64(head))

	cpTime, err := l.chain.BlockTime(ctx, l.cp.Last())
	if err != nil {
		return false, err
	}
	switch {
	case cpTime > l.endTime:
		// The whole window is already behind the checkpoint.
		l.logger.Info("window already passed", "checkpoint", l.cp.Last())
		return true, nil
	case cpTime > l.startTime:
		l.logger.Info("resuming inside window", "checkpoint", l.cp.Last())
		l.tracking = true
		return false, nil
	}

	headTime, err := l.chain.BlockTime(ctx, head)
	if err != nil {
		return false, err
	}
	if headTime < l.startTime {
		l.logger.Debug("waiting for window start", "head", head, "head_time", headTime)
		return false, nil
	}

	// The chain just crossed the window start. Jump the checkpoint to the
	// block right before the first in-window block so the first chunk begins
	// exactly there.
	located, err := chain.FindBlockByTime(ctx, l.chain, l.cp.Last(), l.startTime)
	if err != nil {
		return false, err
	}
	if located > l.cp.Last() {
		if err := l.cp.Save(located - 1); err != nil {
			return false, err
		}
		metrics.CheckpointBlock.Set(float64(located - 1))
	}
	l.logger.Info("window start crossed", "first_block", located)
	l.tracking = true
	return false, nil
}

func (l *Loop) stepTracking(ctx context.Context) (bool, error) {
	head, err := l.chain.HeadBlock(ctx)
	if err != nil {
		return false, err
	}
	metrics.ChainHead.Set(float64(head))

	last := l.cp.Last()
	if head <= last {
		return false, nil
	}

	from := last + 1
	to := min(head, last+l.chunkSize)

	toTime, err := l.chain.BlockTime(ctx, to)
	if err != nil {
		return false, err
	}
	finishAfter := false
	if toTime > l.endTime {
		// Clamp the chunk to the first block at or past the window end; this
		// is the last chunk this loop will ever process.
		located, err := chain.FindBlockByTime(ctx, l.chain, from, l.endTime)
		if err != nil {
			return false, err
		}
		to = located
		finishAfter = true
		if from > to {
			l.logger.Info("window end reached, nothing left to scan", "checkpoint", last)
			return true, nil
		}
	}

	stakes, burns, err := l.scanner.Scan(ctx, from, to)
	if err != nil {
		return false, err
	}
	for _, ev := range stakes {
		l.recorder.RecordStake(ctx, ev)
	}
	for _, ev := range burns {
		l.recorder.RecordBurn(ctx, ev)
	}

	if err := l.cp.Save(to); err != nil {
		return false, err
	}
	metrics.ChunksProcessed.Inc()
	metrics.CheckpointBlock.Set(float64(to))
	l.logger.Info("chunk processed",
		"from", from, "to", to, "stakes", len(stakes), "burns", len(burns))

	return finishAfter, nil
}
