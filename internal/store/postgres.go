package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/subtitler/pkg/models"
)

// ErrDuplicateKey is returned when a job id is inserted twice.
var ErrDuplicateKey = errors.New("duplicate key violation")

const jobColumns = `id, source_kind, source_ref, title, status, progress, subtitle, error_message, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcription_jobs (id, source_kind, source_ref, title, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, string(job.SourceKind), job.SourceRef, job.Title, string(job.Status), job.Progress,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM transcription_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	where := "TRUE"
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		where = fmt.Sprintf("status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM transcription_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	offset := filter.normalize()
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM transcription_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) error {
	u := ResolveJobUpdate(opts...)
	if u.empty() {
		return nil
	}

	query := `UPDATE transcription_jobs SET updated_at = $2`
	args := []any{id, time.Now().UTC()}
	argIdx := 3

	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = $%d", column, argIdx)
		args = append(args, value)
		argIdx++
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.Progress != nil {
		set("progress", *u.Progress)
	}
	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.Subtitle != nil {
		set("subtitle", *u.Subtitle)
	}
	if u.ErrorMessage != nil {
		set("error_message", *u.ErrorMessage)
	}

	query += " WHERE id = $1"
	if u.Lifecycle() {
		query += " AND status NOT IN ('completed', 'error')"
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: either the job is gone or it is already terminal.
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM transcription_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return ErrJobFinalized
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transcription_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j      models.Job
		kind   string
		status string
	)
	if err := row.Scan(&j.ID, &kind, &j.SourceRef, &j.Title, &status, &j.Progress,
		&j.Subtitle, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.SourceKind = models.SourceKind(kind)
	j.Status = models.JobStatus(status)
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
