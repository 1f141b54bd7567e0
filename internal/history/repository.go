package history

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	RunStarted(ctx context.Context, id, mode, selector, since string) error
	RunFinished(ctx context.Context, id string, newClips int, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RunStarted inserts a run record in the running state. It satisfies the
// pipeline's HistoryRecorder contract.
func (r *SQLiteRepository) RunStarted(ctx context.Context, id, mode, selector, since string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, selector, since, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, mode, selector, since, RunStatusRunning, time.Now().UTC().Format(time.RFC3339))
	return err
}

// RunFinished closes out a run record. A non-empty errMsg marks it failed.
func (r *SQLiteRepository) RunFinished(ctx context.Context, id string, newClips int, errMsg string) error {
	status := RunStatusCompleted
	if errMsg != "" {
		status = RunStatusFailed
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, new_clips = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, newClips, errMsg, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, mode, selector, since, status, new_clips, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mode, selector, since, status, new_clips, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString

	err := row.Scan(&run.ID, &run.Mode, &run.Selector, &run.Since, &run.Status,
		&run.NewClips, &run.Error, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid && finishedAt.String != "" {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}
