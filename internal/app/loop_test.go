package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"taskwatch/internal/scanner"
)

const (
	winStart uint64 = 10_000
	winEnd   uint64 = 20_000
)

type fakeChain struct {
	head   uint64
	timeOf func(n uint64) uint64
}

func (f *fakeChain) HeadBlock(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeChain) BlockTime(ctx context.Context, n uint64) (uint64, error) {
	return f.timeOf(n), nil
}

type scanCall struct{ from, to uint64 }

type fakeScanner struct {
	calls  []scanCall
	stakes []scanner.StakeEvent
	burns  []scanner.BurnEvent
	err    error
}

func (f *fakeScanner) Scan(ctx context.Context, from, to uint64) ([]scanner.StakeEvent, []scanner.BurnEvent, error) {
	f.calls = append(f.calls, scanCall{from, to})
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.stakes, f.burns, nil
}

type fakeRecorder struct {
	stakes int
	burns  int
}

func (f *fakeRecorder) RecordStake(ctx context.Context, ev scanner.StakeEvent) { f.stakes++ }
func (f *fakeRecorder) RecordBurn(ctx context.Context, ev scanner.BurnEvent)   { f.burns++ }

type memCheckpoint struct {
	last    uint64
	saves   []uint64
	saveErr error
}

func (m *memCheckpoint) Load() uint64 { return m.last }
func (m *memCheckpoint) Last() uint64 { return m.last }
func (m *memCheckpoint) Save(v uint64) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.last = v
	m.saves = append(m.saves, v)
	return nil
}

func newTestLoop(c *fakeChain, sc *fakeScanner, rec *fakeRecorder, cp *memCheckpoint) *Loop {
	logger := slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewLoop(logger, c, sc, rec, cp,
		time.Unix(int64(winStart), 0), time.Unix(int64(winEnd), 0),
		500, time.Millisecond)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLoopWaitsBeforeWindowStart(t *testing.T) {
	c := &fakeChain{head: 100, timeOf: func(n uint64) uint64 { return winStart - 1000 + n }}
	cp := &memCheckpoint{}
	l := newTestLoop(c, &fakeScanner{}, &fakeRecorder{}, cp)

	done, err := l.step(context.Background())
	if err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if l.tracking {
		t.Fatal("loop should not start tracking before the window opens")
	}
	if len(cp.saves) != 0 {
		t.Fatalf("checkpoint should be untouched, got saves %v", cp.saves)
	}
}

func TestLoopCrossesWindowStart(t *testing.T) {
	// Block 100 sits just before the window start, block 101 just after.
	c := &fakeChain{head: 150, timeOf: func(n uint64) uint64 {
		if n <= 100 {
			return winStart - 1
		}
		return winStart + 1
	}}
	cp := &memCheckpoint{}
	sc := &fakeScanner{}
	l := newTestLoop(c, sc, &fakeRecorder{}, cp)

	done, err := l.step(context.Background())
	if err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if !l.tracking {
		t.Fatal("loop should be tracking after the window start is crossed")
	}
	if cp.last != 100 {
		t.Fatalf("checkpoint = %d, want 100 (block before first in-window block)", cp.last)
	}

	// The next iteration scans from exactly the first in-window block.
	done, err = l.step(context.Background())
	if err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if len(sc.calls) != 1 || sc.calls[0].from != 101 || sc.calls[0].to != 150 {
		t.Fatalf("unexpected scan calls: %+v", sc.calls)
	}
	if cp.last != 150 {
		t.Fatalf("checkpoint = %d, want 150", cp.last)
	}
}

func TestLoopResumesInsideWindow(t *testing.T) {
	c := &fakeChain{head: 300, timeOf: func(n uint64) uint64 { return winStart + 1 }}
	cp := &memCheckpoint{last: 200}
	sc := &fakeScanner{}
	l := newTestLoop(c, sc, &fakeRecorder{}, cp)

	if done, err := l.step(context.Background()); err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if !l.tracking {
		t.Fatal("loop should resume tracking from a mid-window checkpoint")
	}

	if done, err := l.step(context.Background()); err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if len(sc.calls) != 1 || sc.calls[0].from != 201 || sc.calls[0].to != 300 {
		t.Fatalf("unexpected scan calls: %+v", sc.calls)
	}
}

func TestLoopFinishesWhenWindowAlreadyPassed(t *testing.T) {
	c := &fakeChain{head: 5000, timeOf: func(n uint64) uint64 { return winEnd + 1 }}
	cp := &memCheckpoint{last: 4000}
	sc := &fakeScanner{}
	l := newTestLoop(c, sc, &fakeRecorder{}, cp)

	done, err := l.step(context.Background())
	if err != nil {
		t.Fatalf("step error: %v", err)
	}
	if !done {
		t.Fatal("loop should finish immediately when the window has passed")
	}
	if len(sc.calls) != 0 {
		t.Fatalf("no scans expected, got %+v", sc.calls)
	}
}

func TestLoopChunksLargeRanges(t *testing.T) {
	c := &fakeChain{head: 2000, timeOf: func(n uint64) uint64 { return winStart + 1 }}
	cp := &memCheckpoint{last: 100}
	sc := &fakeScanner{}
	l := newTestLoop(c, sc, &fakeRecorder{}, cp)
	l.tracking = true

	if done, err := l.step(context.Background()); err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if len(sc.calls) != 1 || sc.calls[0].from != 101 || sc.calls[0].to != 600 {
		t.Fatalf("expected chunk [101,600], got %+v", sc.calls)
	}
	if cp.last != 600 {
		t.Fatalf("checkpoint = %d, want 600", cp.last)
	}
}

func TestLoopClampsChunkAtWindowEnd(t *testing.T) {
	// Blocks below 400 are inside the window; 400 and up are past the end.
	c := &fakeChain{head: 700, timeOf: func(n uint64) uint64 {
		if n < 400 {
			return winStart + 1
		}
		return winEnd + 5
	}}
	cp := &memCheckpoint{last: 100}
	sc := &fakeScanner{}
	rec := &fakeRecorder{}
	l := newTestLoop(c, sc, rec, cp)
	l.tracking = true

	done, err := l.step(context.Background())
	if err != nil {
		t.Fatalf("step error: %v", err)
	}
	if !done {
		t.Fatal("loop should finish after the clamped chunk")
	}
	if len(sc.calls) != 1 || sc.calls[0].from != 101 || sc.calls[0].to != 400 {
		t.Fatalf("expected clamped chunk [101,400], got %+v", sc.calls)
	}
	if cp.last != 400 {
		t.Fatalf("checkpoint = %d, want located end block 400", cp.last)
	}
}

func TestLoopRetriesFailedChunkWithoutAdvancing(t *testing.T) {
	c := &fakeChain{head: 300, timeOf: func(n uint64) uint64 { return winStart + 1 }}
	cp := &memCheckpoint{last: 200}
	scanErr := errors.New("rpc timeout")
	sc := &fakeScanner{err: scanErr}
	l := newTestLoop(c, sc, &fakeRecorder{}, cp)
	l.tracking = true

	done, err := l.step(context.Background())
	if done {
		t.Fatal("failed step must not finish the loop")
	}
	if !errors.Is(err, scanErr) {
		t.Fatalf("expected scan error, got %v", err)
	}
	if cp.last != 200 {
		t.Fatalf("checkpoint advanced to %d on failure", cp.last)
	}

	// After the fault clears, the same range is retried.
	sc.err = nil
	if done, err := l.step(context.Background()); err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if len(sc.calls) != 2 || sc.calls[1].from != 201 || sc.calls[1].to != 300 {
		t.Fatalf("expected retry of [201,300], got %+v", sc.calls)
	}
}

func TestLoopCheckpointNeverRegresses(t *testing.T) {
	c := &fakeChain{head: 3000, timeOf: func(n uint64) uint64 { return winStart + 1 }}
	cp := &memCheckpoint{last: 100}
	sc := &fakeScanner{}
	l := newTestLoop(c, sc, &fakeRecorder{}, cp)
	l.tracking = true

	for i := 0; i < 5; i++ {
		if done, err := l.step(context.Background()); err != nil || done {
			t.Fatalf("step %d = (%v, %v), want (false, nil)", i, done, err)
		}
	}
	prev := uint64(0)
	for _, v := range cp.saves {
		if v < prev {
			t.Fatalf("checkpoint regressed: %v", cp.saves)
		}
		prev = v
	}
}

func TestLoopIdleWhenCaughtUp(t *testing.T) {
	c := &fakeChain{head: 300, timeOf: func(n uint64) uint64 { return winStart + 1 }}
	cp := &memCheckpoint{last: 300}
	sc := &fakeScanner{}
	l := newTestLoop(c, sc, &fakeRecorder{}, cp)
	l.tracking = true

	if done, err := l.step(context.Background()); err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if len(sc.calls) != 0 {
		t.Fatalf("no scans expected at head, got %+v", sc.calls)
	}
}

func TestLoopRecordsScannedEvents(t *testing.T) {
	c := &fakeChain{head: 300, timeOf: func(n uint64) uint64 { return winStart + 1 }}
	cp := &memCheckpoint{last: 200}
	sc := &fakeScanner{
		stakes: make([]scanner.StakeEvent, 3),
		burns:  make([]scanner.BurnEvent, 2),
	}
	rec := &fakeRecorder{}
	l := newTestLoop(c, sc, rec, cp)
	l.tracking = true

	if done, err := l.step(context.Background()); err != nil || done {
		t.Fatalf("step = (%v, %v), want (false, nil)", done, err)
	}
	if rec.stakes != 3 || rec.burns != 2 {
		t.Fatalf("recorded %d stakes and %d burns, want 3 and 2", rec.stakes, rec.burns)
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	c := &fakeChain{head: 100, timeOf: func(n uint64) uint64 { return winStart - 1000 }}
	cp := &memCheckpoint{}
	l := newTestLoop(c, &fakeScanner{}, &fakeRecorder{}, cp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}
