package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"meeting-insights-go/internal/types"
)

// DB is the subset of *pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS meetings (
	id            uuid PRIMARY KEY,
	seq           bigserial,
	title         text NOT NULL,
	filename      text NOT NULL,
	source_path   text NOT NULL DEFAULT '',
	status        text NOT NULL,
	transcript    text,
	summary       text,
	action_items  jsonb,
	key_decisions jsonb,
	error_message text,
	created_at    timestamptz NOT NULL,
	updated_at    timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_meetings_created_at ON meetings (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings (status);
`

const columns = `id::text, title, filename, source_path, status, transcript, summary,
	action_items::text, key_decisions::text, error_message, created_at, updated_at`

const activeOnly = `status NOT IN ('completed', 'failed')`

// Postgres stores jobs in the meetings table. Transitions are single
// conditional UPDATE statements so row locking gives per-record atomicity.
type Postgres struct {
	db  DB
	now func() time.Time
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the table and indexes when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schema)
	return wrap("migrate", err)
}

// validID reports whether id can be bound to the uuid key column. Any other
// id cannot name a stored job.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (p *Postgres) Create(ctx context.Context, job types.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	if !validID(job.ID) {
		return fmt.Errorf("job id %q is not a uuid", job.ID)
	}
	tag, err := p.db.Exec(ctx,
		`INSERT INTO meetings (id, title, filename, source_path, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Title, job.Filename, job.SourcePath, string(job.Status), job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return wrap("create", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (types.Job, error) {
	if !validID(id) {
		return types.Job{}, ErrNotFound
	}
	job, err := scanJob(p.db.QueryRow(ctx, `SELECT `+columns+` FROM meetings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Job{}, ErrNotFound
	}
	return job, wrap("get", err)
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) (types.Job, error) {
	if err := checkStatusTarget(status); err != nil {
		return types.Job{}, err
	}
	if !validID(id) {
		return types.Job{}, ErrNotFound
	}
	if status != types.StatusFailed {
		errMsg = ""
	}
	row := p.db.QueryRow(ctx,
		`UPDATE meetings SET status = $2,
			error_message = COALESCE(NULLIF($3, ''), error_message),
			updated_at = GREATEST($4, updated_at)
		WHERE id = $1 AND `+activeOnly+`
		RETURNING `+columns,
		id, string(status), errMsg, p.now())
	return p.finishUpdate(ctx, "update status", id, row)
}

func (p *Postgres) UpdateResults(ctx context.Context, id string, result types.Result, status types.JobStatus) (types.Job, error) {
	if err := checkResultsTarget(status); err != nil {
		return types.Job{}, err
	}
	if !validID(id) {
		return types.Job{}, ErrNotFound
	}
	actions, err := marshalList(result.ActionItems)
	if err != nil {
		return types.Job{}, wrap("update results", err)
	}
	decisions, err := marshalList(result.KeyDecisions)
	if err != nil {
		return types.Job{}, wrap("update results", err)
	}
	row := p.db.QueryRow(ctx,
		`UPDATE meetings SET status = $2, transcript = $3, summary = $4,
			action_items = $5::jsonb, key_decisions = $6::jsonb,
			error_message = NULL,
			updated_at = GREATEST($7, updated_at)
		WHERE id = $1 AND `+activeOnly+`
		RETURNING `+columns,
		id, string(status), result.Transcript, result.Summary, actions, decisions, p.now())
	return p.finishUpdate(ctx, "update results", id, row)
}

// finishUpdate scans the RETURNING row; no row means the job is missing or
// already terminal, which one is decided by a follow-up read.
func (p *Postgres) finishUpdate(ctx context.Context, op, id string, row pgx.Row) (types.Job, error) {
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return types.Job{}, wrap(op, err)
	}
	if _, getErr := p.Get(ctx, id); getErr != nil {
		return types.Job{}, getErr
	}
	return types.Job{}, ErrTerminal
}

func (p *Postgres) List(ctx context.Context, limit, offset int) ([]types.Job, error) {
	limit, offset = NormalizePage(limit, offset)
	rows, err := p.db.Query(ctx,
		`SELECT `+columns+` FROM meetings ORDER BY created_at DESC, seq DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, wrap("list", err)
	}
	jobs, err := collect(rows)
	return jobs, wrap("list", err)
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM meetings`).Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status types.JobStatus) ([]types.Job, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+columns+` FROM meetings WHERE status = $1 ORDER BY created_at ASC, seq ASC`,
		string(status))
	if err != nil {
		return nil, wrap("list by status", err)
	}
	jobs, err := collect(rows)
	return jobs, wrap("list by status", err)
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return wrap("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func collect(rows pgx.Rows) ([]types.Job, error) {
	defer rows.Close()
	jobs := []types.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (types.Job, error) {
	var (
		job                                             types.Job
		status                                          string
		transcript, summary, actions, decisions, errMsg pgtype.Text
	)
	err := row.Scan(&job.ID, &job.Title, &job.Filename, &job.SourcePath, &status,
		&transcript, &summary, &actions, &decisions, &errMsg,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return types.Job{}, err
	}
	job.Status = types.JobStatus(status)
	job.ErrorMessage = errMsg.String

	if job.Status == types.StatusCompleted {
		res := &types.Result{Transcript: transcript.String}
		res.Summary = summary.String
		if res.ActionItems, err = unmarshalList(actions); err != nil {
			return types.Job{}, fmt.Errorf("decode action_items: %w", err)
		}
		if res.KeyDecisions, err = unmarshalList(decisions); err != nil {
			return types.Job{}, fmt.Errorf("decode key_decisions: %w", err)
		}
		job.Result = res
	}
	return job, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}

func unmarshalList(t pgtype.Text) ([]string, error) {
	out := []string{}
	if !t.Valid || t.String == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(t.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
