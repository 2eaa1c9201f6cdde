package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/speech-trainer/api-go/internal/model"
)

type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Jobs finish on their own goroutines; one connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  model_id TEXT NOT NULL,
  suffix TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  finished_at INTEGER,
  error_message TEXT
);
CREATE INDEX IF NOT EXISTS jobs_model_id ON jobs (model_id, created_at);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateJob(ctx context.Context, job model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, model_id, suffix, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Kind),
		job.ModelID,
		job.Suffix,
		string(job.Status),
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	return err
}

const jobColumns = `id, kind, model_id, suffix, status, created_at, updated_at, finished_at, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var (
		id, kind, modelID, suffix, status string
		createdMs, updatedMs              int64
		finishedMs                        sql.NullInt64
		errorMsg                          sql.NullString
	)
	if err := row.Scan(&id, &kind, &modelID, &suffix, &status, &createdMs, &updatedMs, &finishedMs, &errorMsg); err != nil {
		return model.Job{}, err
	}
	job := model.Job{
		ID:        id,
		Kind:      model.JobKind(kind),
		ModelID:   modelID,
		Suffix:    suffix,
		Status:    model.JobStatus(status),
		CreatedAt: time.UnixMilli(createdMs),
		UpdatedAt: time.UnixMilli(updatedMs),
	}
	if finishedMs.Valid {
		finished := time.UnixMilli(finishedMs.Int64)
		job.FinishedAt = &finished
	}
	if errorMsg.Valid {
		job.Error = errorMsg.String
	}
	return job, nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, model.ErrNotFound
		}
		return model.Job{}, err
	}
	return job, nil
}

// ListJobs returns the newest jobs first. An empty modelID lists all models.
func (s *SQLite) ListJobs(ctx context.Context, modelID string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 25
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if modelID != "" {
		query += " WHERE model_id = ?"
		args = append(args, modelID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateJob(ctx context.Context, id string, patch model.JobPatch) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET updated_at = ?,
             status = COALESCE(?, status),
             finished_at = COALESCE(?, finished_at),
             error_message = COALESCE(?, error_message)
         WHERE id = ?`,
		now,
		nullableString(patch.Status),
		nullableTime(patch.FinishedAt),
		nullableString(patch.Error),
		id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UnixMilli()
}
