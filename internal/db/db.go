// Package db provides durable storage for the relay hub's ambient stats and
// feedback log. Nothing the transfer protocol does depends on this package:
// the hub runs without it if the database file can't be opened.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

func ctx() context.Context { return context.Background() }

// Stats is the single-row cumulative counter table.
type Stats struct {
	bun.BaseModel `bun:"table:stats"`

	ID            int `bun:"id,pk"`
	TotalUsers    int `bun:"total_users,notnull"`
	TotalSessions int `bun:"total_sessions,notnull"`
}

// Feedback is one submitted rating/comment.
type Feedback struct {
	bun.BaseModel `bun:"table:feedback"`

	ID          int64     `json:"id" bun:"id,pk,autoincrement"`
	Rating      int       `json:"rating" bun:"rating,notnull"`
	Comment     string    `json:"feedback" bun:"comment"`
	SubmittedAt time.Time `json:"submittedAt" bun:"submitted_at,nullzero,notnull,default:current_timestamp"`
}

// DB wraps a bun connection to the stats/feedback SQLite database.
type DB struct {
	bun *bun.DB
}

// Open opens the SQLite database at the given path, running any pending
// migrations, and ensures the singleton stats row exists.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	bunDB := bun.NewDB(conn, sqlitedialect.New())
	db := &DB{bun: bunDB}

	if err := db.ensureStatsRow(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed stats row: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.bun.Close()
}

func (db *DB) Ping() error {
	return db.bun.PingContext(ctx())
}

func (db *DB) ensureStatsRow() error {
	count, err := db.bun.NewSelect().Model((*Stats)(nil)).Count(ctx())
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = db.bun.NewInsert().Model(&Stats{ID: 1}).Exec(ctx())
	return err
}

// IncrementUsers bumps the cumulative device counter by one.
func (db *DB) IncrementUsers() error {
	_, err := db.bun.NewUpdate().
		Model((*Stats)(nil)).
		Set("total_users = total_users + 1").
		Where("id = 1").
		Exec(ctx())
	return err
}

// IncrementSessions bumps the cumulative session counter by one.
func (db *DB) IncrementSessions() error {
	_, err := db.bun.NewUpdate().
		Model((*Stats)(nil)).
		Set("total_sessions = total_sessions + 1").
		Where("id = 1").
		Exec(ctx())
	return err
}

// GetStats returns the current cumulative counters.
func (db *DB) GetStats() (*Stats, error) {
	s := new(Stats)
	if err := db.bun.NewSelect().Model(s).Where("id = 1").Scan(ctx()); err != nil {
		return nil, err
	}
	return s, nil
}

// AddFeedback appends a feedback entry.
func (db *DB) AddFeedback(rating int, comment string) error {
	f := &Feedback{Rating: rating, Comment: comment}
	_, err := db.bun.NewInsert().Model(f).Exec(ctx())
	return err
}
