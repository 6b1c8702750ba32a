// Package tasks owns the user_tasks table: recording completed campaign
// tasks and answering completion lookups.
package tasks

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
)

//go:embed migrations/*.sql
var migrations embed.FS

// Task kinds. A stake mints stBTC, a burn bridges it out.
const (
	TaskMint   = "mint"
	TaskBridge = "bridge"
)

// Record is one completed task. UserAddress is stored lowercased; the
// (tx_hash, log_index) pair is the natural key that makes re-scans of an
// already processed range harmless.
type Record struct {
	UserAddress string    `db:"user_address"`
	Task        string    `db:"task"`
	CompletedAt time.Time `db:"completed_at"`
	TxHash      string    `db:"tx_hash"`
	LogIndex    uint64    `db:"log_index"`
}

type Store struct {
	db *sqlx.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert writes one task record. Re-inserting the same (tx_hash, log_index)
// is a no-op.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO user_tasks (user_address, task, completed_at, tx_hash, log_index)
		VALUES (:user_address, :task, :completed_at, :tx_hash, :log_index)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`, rec)
	return err
}

// Completed reports whether address finished task at least once inside
// [from, to).
func (s *Store) Completed(ctx context.Context, address, task string, from, to time.Time) (bool, error) {
	var done bool
	err := s.db.GetContext(ctx, &done, `
		SELECT EXISTS (
			SELECT 1 FROM user_tasks
			WHERE user_address = $1 AND task = $2
			  AND completed_at >= $3 AND completed_at < $4
		)`, address, task, from, to)
	if err != nil {
		return false, err
	}
	return done, nil
}
