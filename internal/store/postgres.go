package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/callcoach/internal/db"
	"github.com/sells-group/callcoach/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_call":    `INSERT INTO calls (id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_call":       `SELECT id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at FROM calls WHERE id = $1`,
	"replace_score":  `UPDATE calls SET breakdown = $1, total = $2, rule_version_id = $3, framework_version = $4, updated_at = $5 WHERE id = $6`,
	"insert_history": `INSERT INTO score_history (id, call_id, rule_version_id, framework_version, total, breakdown, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"list_history":   `SELECT id, call_id, rule_version_id, framework_version, total, breakdown, created_at FROM score_history WHERE call_id = $1 ORDER BY created_at ASC, seq ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access (e.g., bulk prompt seeding).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS calls (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	rep               TEXT NOT NULL DEFAULT '',
	transcript        TEXT NOT NULL,
	breakdown         JSONB NOT NULL,
	total             INTEGER NOT NULL,
	rule_version_id   TEXT,
	framework_version TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS score_history (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq               BIGSERIAL,
	call_id           TEXT NOT NULL REFERENCES calls(id),
	rule_version_id   TEXT NOT NULL,
	framework_version TEXT NOT NULL,
	total             INTEGER NOT NULL,
	breakdown         JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rule_versions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name              TEXT NOT NULL,
	label             TEXT NOT NULL,
	framework_version TEXT NOT NULL DEFAULT '1.0',
	is_active         BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pivot_prompts (
	id       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	step_key TEXT NOT NULL,
	position INTEGER NOT NULL,
	prompt   TEXT NOT NULL,
	UNIQUE (step_key, position)
);

CREATE INDEX IF NOT EXISTS idx_calls_framework_version ON calls(framework_version);
CREATE INDEX IF NOT EXISTS idx_calls_total ON calls(total);
CREATE INDEX IF NOT EXISTS idx_score_history_call_id ON score_history(call_id);
CREATE INDEX IF NOT EXISTS idx_pivot_prompts_step_key ON pivot_prompts(step_key);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, call *model.Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now
	call.Total = call.Breakdown.Total

	breakdownJSON, err := json.Marshal(call.Breakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal breakdown")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO calls (id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		call.ID, call.Rep, call.Transcript, breakdownJSON, call.Total,
		call.RuleVersionID, call.FrameworkVersion, now, now,
	)
	return eris.Wrap(err, "postgres: insert call")
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (*model.Call, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at FROM calls WHERE id = $1`,
		id,
	)
	call, err := scanPgCall(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "call %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get call %s", id)
	}
	return call, nil
}

func (s *PostgresStore) ListCalls(ctx context.Context, filter CallFilter) ([]model.Call, error) {
	query := `SELECT id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at FROM calls WHERE true`
	args := []any{}
	argIdx := 1

	if filter.FrameworkVersion != "" {
		query += fmt.Sprintf(` AND framework_version = $%d`, argIdx)
		args = append(args, filter.FrameworkVersion)
		argIdx++
	}
	if filter.MinTotal > 0 {
		query += fmt.Sprintf(` AND total >= $%d`, argIdx)
		args = append(args, filter.MinTotal)
		argIdx++
	}
	if filter.MaxTotal > 0 {
		query += fmt.Sprintf(` AND total <= $%d`, argIdx)
		args = append(args, filter.MaxTotal)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list calls")
	}
	defer rows.Close()

	var calls []model.Call
	for rows.Next() {
		call, err := scanPgCall(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan call")
		}
		calls = append(calls, *call)
	}
	return calls, eris.Wrap(rows.Err(), "postgres: iterate calls")
}

// ReplaceScore updates the call's current score and appends the history
// entry, when given, in a single transaction.
func (s *PostgresStore) ReplaceScore(ctx context.Context, call *model.Call, entry *model.HistoryEntry) error {
	breakdownJSON, err := json.Marshal(call.Breakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal breakdown")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace score")
	}
	defer tx.Rollback(ctx)

	call.UpdatedAt = time.Now().UTC()
	call.Total = call.Breakdown.Total

	tag, err := tx.Exec(ctx,
		`UPDATE calls SET breakdown = $1, total = $2, rule_version_id = $3, framework_version = $4, updated_at = $5 WHERE id = $6`,
		breakdownJSON, call.Total, call.RuleVersionID, call.FrameworkVersion, call.UpdatedAt, call.ID,
	)
	if err != nil {
		return &PartialWriteError{Err: err}
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "call %s", call.ID)
	}

	if entry != nil {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		entryJSON, err := json.Marshal(entry.Breakdown)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal history breakdown")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO score_history (id, call_id, rule_version_id, framework_version, total, breakdown, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, entry.CallID, entry.RuleVersionID, entry.FrameworkVersion,
			entry.Total, entryJSON, entry.CreatedAt,
		)
		if err != nil {
			return &PartialWriteError{Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &PartialWriteError{Err: err}
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, callID string) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, rule_version_id, framework_version, total, breakdown, created_at FROM score_history WHERE call_id = $1 ORDER BY created_at ASC, seq ASC`,
		callID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list history")
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var breakdownJSON []byte
		if err := rows.Scan(&e.ID, &e.CallID, &e.RuleVersionID, &e.FrameworkVersion, &e.Total, &breakdownJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history entry")
		}
		if err := json.Unmarshal(breakdownJSON, &e.Breakdown); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal history breakdown")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate history")
}

func (s *PostgresStore) CreateRuleVersion(ctx context.Context, v *model.RuleVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO rule_versions (id, name, label, framework_version, is_active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.Name, v.Label, v.FrameworkVersion, v.IsActive, v.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert rule version")
}

func (s *PostgresStore) GetRuleVersion(ctx context.Context, id string) (*model.RuleVersion, error) {
	var v model.RuleVersion
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, label, framework_version, is_active, created_at FROM rule_versions WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.Name, &v.Label, &v.FrameworkVersion, &v.IsActive, &v.CreatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "rule version %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get rule version %s", id)
	}
	return &v, nil
}

func (s *PostgresStore) ListRuleVersions(ctx context.Context) ([]model.RuleVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, label, framework_version, is_active, created_at FROM rule_versions ORDER BY created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rule versions")
	}
	defer rows.Close()

	var versions []model.RuleVersion
	for rows.Next() {
		var v model.RuleVersion
		if err := rows.Scan(&v.ID, &v.Name, &v.Label, &v.FrameworkVersion, &v.IsActive, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule version")
		}
		versions = append(versions, v)
	}
	return versions, eris.Wrap(rows.Err(), "postgres: iterate rule versions")
}

func (s *PostgresStore) ActiveRuleVersion(ctx context.Context) (*model.RuleVersion, error) {
	var v model.RuleVersion
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, label, framework_version, is_active, created_at FROM rule_versions WHERE is_active = true LIMIT 1`,
	).Scan(&v.ID, &v.Name, &v.Label, &v.FrameworkVersion, &v.IsActive, &v.CreatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrap(ErrNotFound, "active rule version")
		}
		return nil, eris.Wrap(err, "postgres: active rule version")
	}
	return &v, nil
}

// SetActiveRuleVersion marks one version active and deactivates the rest in
// the same transaction, keeping at most one active.
func (s *PostgresStore) SetActiveRuleVersion(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin set active")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE rule_versions SET is_active = false WHERE is_active = true`); err != nil {
		return eris.Wrap(err, "postgres: deactivate rule versions")
	}
	tag, err := tx.Exec(ctx, `UPDATE rule_versions SET is_active = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate rule version %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "rule version %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit set active")
}

func (s *PostgresStore) ListPivotPrompts(ctx context.Context, stepKey string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT prompt FROM pivot_prompts WHERE step_key = $1 ORDER BY position ASC`, stepKey)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pivot prompts")
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pivot prompt")
		}
		prompts = append(prompts, p)
	}
	return prompts, eris.Wrap(rows.Err(), "postgres: iterate pivot prompts")
}

// SeedPivotPrompts bulk-loads library prompts, skipping positions already
// present so manual edits survive reseeding.
func (s *PostgresStore) SeedPivotPrompts(ctx context.Context, prompts map[string][]string) error {
	var rows [][]any
	for key, list := range prompts {
		for i, prompt := range list {
			rows = append(rows, []any{uuid.New().String(), key, i, prompt})
		}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "pivot_prompts",
		Columns:      []string{"id", "step_key", "position", "prompt"},
		ConflictKeys: []string{"step_key", "position"},
		SkipExisting: true,
	}, rows)
	return eris.Wrap(err, "postgres: seed pivot prompts")
}

// scanPgCall scans a call from a pgx row, converting the nullable version
// columns.
func scanPgCall(row pgx.Row) (*model.Call, error) {
	var c model.Call
	var breakdownJSON []byte
	var ruleVersionID, frameworkVersion *string

	err := row.Scan(&c.ID, &c.Rep, &c.Transcript, &breakdownJSON, &c.Total,
		&ruleVersionID, &frameworkVersion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(breakdownJSON, &c.Breakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal breakdown")
	}
	c.RuleVersionID = ruleVersionID
	c.FrameworkVersion = frameworkVersion
	return &c, nil
}
