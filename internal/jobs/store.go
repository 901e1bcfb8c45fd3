// Package jobs persists materialized jobs in SQLite so fulfillment
// pipelines can pick them up after the daemon restarts.
package jobs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tianruen-vp/human-agent-interaction/internal/state"
)

// Store is a SQLite-backed job archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create jobs dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id                    TEXT PRIMARY KEY,
			counterparty_id       TEXT NOT NULL,
			counterparty_name     TEXT NOT NULL,
			last_replied_tweet_id TEXT NOT NULL,
			token_name            TEXT NOT NULL,
			target                TEXT NOT NULL,
			idea                  TEXT NOT NULL,
			edge                  TEXT NOT NULL,
			reference_accounts    TEXT NOT NULL,
			stage                 TEXT NOT NULL,
			services              TEXT NOT NULL,
			created_at            TEXT NOT NULL,
			fulfilled             INTEGER DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert archives a job. Re-inserting the same id is a no-op, so a crash
// between state apply and archive write stays safe to replay.
func (s *Store) Insert(job state.Job) error {
	services, err := json.Marshal(job.Services)
	if err != nil {
		return fmt.Errorf("marshal services: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO jobs
			(id, counterparty_id, counterparty_name, last_replied_tweet_id,
			 token_name, target, idea, edge, reference_accounts, stage, services, created_at, fulfilled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		job.ID, job.CounterpartyID, job.CounterpartyName, job.LastRepliedTweetID,
		job.Name, job.Target, job.Idea, job.Edge, job.References, job.Stage,
		string(services), job.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Pending returns unfulfilled jobs, oldest first.
func (s *Store) Pending() ([]state.Job, error) {
	rows, err := s.db.Query(
		`SELECT id, counterparty_id, counterparty_name, last_replied_tweet_id,
			token_name, target, idea, edge, reference_accounts, stage, services, created_at
		 FROM jobs WHERE fulfilled = 0 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []state.Job
	for rows.Next() {
		var job state.Job
		var services, createdAt string
		if err := rows.Scan(
			&job.ID, &job.CounterpartyID, &job.CounterpartyName, &job.LastRepliedTweetID,
			&job.Name, &job.Target, &job.Idea, &job.Edge, &job.References, &job.Stage,
			&services, &createdAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(services), &job.Services); err != nil {
			return nil, fmt.Errorf("parse services for job %s: %w", job.ID, err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			job.CreatedAt = t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkFulfilled flags a job as handed off. Returns false when the job was
// unknown or already fulfilled.
func (s *Store) MarkFulfilled(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE jobs SET fulfilled = 1 WHERE id = ? AND fulfilled = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
