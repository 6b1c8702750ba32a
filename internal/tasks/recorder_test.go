package tasks

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"taskwatch/internal/scanner"
)

type fakeInserter struct {
	records []Record
	failOn  map[string]error // keyed by tx hash
}

func (f *fakeInserter) Insert(ctx context.Context, rec Record) error {
	if err, ok := f.failOn[rec.TxHash]; ok {
		return err
	}
	f.records = append(f.records, rec)
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestRecorder(store Inserter) *Recorder {
	logger := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	threshold, _ := new(big.Int).SetString("100000000000000", 10)
	return NewRecorder(logger, store, threshold)
}

func stakeEvent(amount *big.Int) scanner.StakeEvent {
	return scanner.StakeEvent{
		User:        common.HexToAddress("0xAbCdEF0123456789abcdef0123456789ABCDEF01"),
		StakeAmount: amount,
		BlockTime:   1704110400, // 2024-01-01T12:00:00Z
		TxHash:      common.HexToHash("0x01"),
		LogIndex:    3,
	}
}

func TestRecordStakeAtThreshold(t *testing.T) {
	store := &fakeInserter{}
	r := newTestRecorder(store)

	amount, _ := new(big.Int).SetString("100000000000000", 10)
	r.RecordStake(context.Background(), stakeEvent(amount))

	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.Task != TaskMint {
		t.Fatalf("task = %q, want %q", rec.Task, TaskMint)
	}
	if rec.UserAddress != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("address not lowercased: %q", rec.UserAddress)
	}
	if got := rec.CompletedAt.UTC().Format("2006-01-02T15:04:05Z"); got != "2024-01-01T12:00:00Z" {
		t.Fatalf("completed_at = %s", got)
	}
	if s := r.Stats(); s.Recorded != 1 || s.Dropped != 0 || s.InsertFailures != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRecordStakeBelowThreshold(t *testing.T) {
	store := &fakeInserter{}
	r := newTestRecorder(store)

	amount, _ := new(big.Int).SetString("99999999999999", 10)
	r.RecordStake(context.Background(), stakeEvent(amount))

	if len(store.records) != 0 {
		t.Fatalf("expected no records, got %d", len(store.records))
	}
	if s := r.Stats(); s.Dropped != 1 || s.Recorded != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRecordBurnMapsToBridgeTask(t *testing.T) {
	store := &fakeInserter{}
	r := newTestRecorder(store)

	r.RecordBurn(context.Background(), scanner.BurnEvent{
		From:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Amount:    big.NewInt(1_000_000_000_000_000),
		BlockTime: 1704067200,
		TxHash:    common.HexToHash("0x02"),
	})

	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
	if store.records[0].Task != TaskBridge {
		t.Fatalf("task = %q, want %q", store.records[0].Task, TaskBridge)
	}
}

func TestInsertFailureDoesNotBlockLaterEvents(t *testing.T) {
	store := &fakeInserter{failOn: map[string]error{
		common.HexToHash("0x01").Hex(): errors.New("duplicate key"),
	}}
	r := newTestRecorder(store)

	amount, _ := new(big.Int).SetString("200000000000000", 10)
	first := stakeEvent(amount)
	second := stakeEvent(amount)
	second.TxHash = common.HexToHash("0x03")

	r.RecordStake(context.Background(), first)
	r.RecordStake(context.Background(), second)

	if len(store.records) != 1 {
		t.Fatalf("expected the second event recorded, got %d records", len(store.records))
	}
	if store.records[0].TxHash != common.HexToHash("0x03").Hex() {
		t.Fatalf("wrong record survived: %+v", store.records[0])
	}
	if s := r.Stats(); s.InsertFailures != 1 || s.Recorded != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRecordNilAmountDropped(t *testing.T) {
	store := &fakeInserter{}
	r := newTestRecorder(store)

	r.RecordStake(context.Background(), stakeEvent(nil))

	if len(store.records) != 0 {
		t.Fatalf("expected no records for nil amount, got %d", len(store.records))
	}
}
