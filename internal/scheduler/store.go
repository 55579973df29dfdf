package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const jobSchema = `
CREATE TABLE IF NOT EXISTS cron_jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	payload TEXT NOT NULL,
	schedule_expr TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	chat_id TEXT NOT NULL DEFAULT '',
	next_due DATETIME NOT NULL,
	last_fired DATETIME,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cron_jobs_due ON cron_jobs(enabled, next_due);
`

// CronJob is one persisted scheduled job.
type CronJob struct {
	ID           string
	Name         string
	Payload      string
	ScheduleExpr string
	Channel      string
	ChatID       string
	NextDue      time.Time
	LastFired    time.Time
	Enabled      bool
	CreatedAt    time.Time
}

// Store persists cron jobs across restarts.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the job database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cron db: %w", err)
	}
	if _, err := db.Exec(jobSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cron schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Add persists a new job. The schedule is validated and the first due
// time computed from now.
func (s *Store) Add(ctx context.Context, job CronJob, now time.Time) (string, error) {
	sched, err := ParseSchedule(job.ScheduleExpr)
	if err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.NextDue = sched.First(now)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (id, name, payload, schedule_expr, channel, chat_id, next_due, enabled) VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		job.ID, job.Name, job.Payload, job.ScheduleExpr, job.Channel, job.ChatID, job.NextDue.UTC())
	if err != nil {
		return "", fmt.Errorf("add cron job: %w", err)
	}
	return job.ID, nil
}

// List returns all jobs ordered by creation.
func (s *Store) List(ctx context.Context) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, payload, schedule_expr, channel, chat_id, next_due, last_fired, enabled, created_at
		 FROM cron_jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Due returns enabled jobs whose next-due time is at or before now.
func (s *Store) Due(ctx context.Context, now time.Time) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, payload, schedule_expr, channel, chat_id, next_due, last_fired, enabled, created_at
		 FROM cron_jobs WHERE enabled = 1 AND next_due <= ? ORDER BY next_due`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]CronJob, error) {
	var jobs []CronJob
	for rows.Next() {
		var j CronJob
		var lastFired sql.NullTime
		if err := rows.Scan(&j.ID, &j.Name, &j.Payload, &j.ScheduleExpr, &j.Channel, &j.ChatID,
			&j.NextDue, &lastFired, &j.Enabled, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		if lastFired.Valid {
			j.LastFired = lastFired.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkFired records a fire and advances the due time.
func (s *Store) MarkFired(ctx context.Context, id string, firedAt, nextDue time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET last_fired = ?, next_due = ? WHERE id = ?`,
		firedAt.UTC(), nextDue.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	return nil
}

// Reschedule moves the due time without recording a fire. Used by the
// skip-forward missed-run policy.
func (s *Store) Reschedule(ctx context.Context, id string, nextDue time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET next_due = ? WHERE id = ?`, nextDue.UTC(), id)
	if err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

// SetEnabled toggles a job.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE cron_jobs SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return false, fmt.Errorf("set enabled: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Remove deletes a job. Returns false when no job had the id.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove cron job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
