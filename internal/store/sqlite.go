package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/callcoach/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS calls (
	id                TEXT PRIMARY KEY,
	rep               TEXT NOT NULL DEFAULT '',
	transcript        TEXT NOT NULL,
	breakdown         TEXT NOT NULL,
	total             INTEGER NOT NULL,
	rule_version_id   TEXT,
	framework_version TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS score_history (
	id                TEXT PRIMARY KEY,
	call_id           TEXT NOT NULL REFERENCES calls(id),
	rule_version_id   TEXT NOT NULL,
	framework_version TEXT NOT NULL,
	total             INTEGER NOT NULL,
	breakdown         TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rule_versions (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	label             TEXT NOT NULL,
	framework_version TEXT NOT NULL DEFAULT '1.0',
	is_active         INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pivot_prompts (
	id       TEXT PRIMARY KEY,
	step_key TEXT NOT NULL,
	position INTEGER NOT NULL,
	prompt   TEXT NOT NULL,
	UNIQUE (step_key, position)
);

CREATE INDEX IF NOT EXISTS idx_calls_framework_version ON calls(framework_version);
CREATE INDEX IF NOT EXISTS idx_score_history_call_id ON score_history(call_id);
CREATE INDEX IF NOT EXISTS idx_pivot_prompts_step_key ON pivot_prompts(step_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCall(ctx context.Context, call *model.Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now
	call.Total = call.Breakdown.Total

	breakdownJSON, err := json.Marshal(call.Breakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal breakdown")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calls (id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.Rep, call.Transcript, string(breakdownJSON), call.Total,
		call.RuleVersionID, call.FrameworkVersion, now, now,
	)
	return eris.Wrap(err, "sqlite: insert call")
}

func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*model.Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at
		 FROM calls WHERE id = ?`, id)
	call, err := scanCall(row.Scan)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "call %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get call %s", id)
	}
	return call, nil
}

func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]model.Call, error) {
	query := `SELECT id, rep, transcript, breakdown, total, rule_version_id, framework_version, created_at, updated_at
		FROM calls WHERE 1=1`
	var args []any

	if filter.FrameworkVersion != "" {
		query += ` AND framework_version = ?`
		args = append(args, filter.FrameworkVersion)
	}
	if filter.MinTotal > 0 {
		query += ` AND total >= ?`
		args = append(args, filter.MinTotal)
	}
	if filter.MaxTotal > 0 {
		query += ` AND total <= ?`
		args = append(args, filter.MaxTotal)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list calls")
	}
	defer rows.Close()

	var calls []model.Call
	for rows.Next() {
		call, err := scanCall(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call")
		}
		calls = append(calls, *call)
	}
	return calls, eris.Wrap(rows.Err(), "sqlite: iterate calls")
}

// ReplaceScore updates the call's current score and appends the history
// entry, when given, in a single transaction.
func (s *SQLiteStore) ReplaceScore(ctx context.Context, call *model.Call, entry *model.HistoryEntry) error {
	breakdownJSON, err := json.Marshal(call.Breakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal breakdown")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace score")
	}
	defer tx.Rollback()

	call.UpdatedAt = time.Now().UTC()
	call.Total = call.Breakdown.Total

	res, err := tx.ExecContext(ctx,
		`UPDATE calls SET breakdown = ?, total = ?, rule_version_id = ?, framework_version = ?, updated_at = ?
		 WHERE id = ?`,
		string(breakdownJSON), call.Total, call.RuleVersionID, call.FrameworkVersion, call.UpdatedAt, call.ID,
	)
	if err != nil {
		return &PartialWriteError{Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &PartialWriteError{Err: err}
	}
	if n == 0 {
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
			return eris.Wrap(err, "sqlite: marshal history breakdown")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO score_history (id, call_id, rule_version_id, framework_version, total, breakdown, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.CallID, entry.RuleVersionID, entry.FrameworkVersion,
			entry.Total, string(entryJSON), entry.CreatedAt,
		)
		if err != nil {
			return &PartialWriteError{Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PartialWriteError{Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, callID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, rule_version_id, framework_version, total, breakdown, created_at
		 FROM score_history WHERE call_id = ? ORDER BY created_at ASC, rowid ASC`, callID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list history")
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var breakdownJSON string
		if err := rows.Scan(&e.ID, &e.CallID, &e.RuleVersionID, &e.FrameworkVersion, &e.Total, &breakdownJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history entry")
		}
		if err := json.Unmarshal([]byte(breakdownJSON), &e.Breakdown); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal history breakdown")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

func (s *SQLiteStore) CreateRuleVersion(ctx context.Context, v *model.RuleVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_versions (id, name, label, framework_version, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, v.Label, v.FrameworkVersion, v.IsActive, v.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert rule version")
}

func (s *SQLiteStore) GetRuleVersion(ctx context.Context, id string) (*model.RuleVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, label, framework_version, is_active, created_at
		 FROM rule_versions WHERE id = ?`, id)
	v, err := scanRuleVersion(row.Scan)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "rule version %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get rule version %s", id)
	}
	return v, nil
}

func (s *SQLiteStore) ListRuleVersions(ctx context.Context) ([]model.RuleVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, label, framework_version, is_active, created_at
		 FROM rule_versions ORDER BY created_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rule versions")
	}
	defer rows.Close()

	var versions []model.RuleVersion
	for rows.Next() {
		v, err := scanRuleVersion(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule version")
		}
		versions = append(versions, *v)
	}
	return versions, eris.Wrap(rows.Err(), "sqlite: iterate rule versions")
}

func (s *SQLiteStore) ActiveRuleVersion(ctx context.Context) (*model.RuleVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, label, framework_version, is_active, created_at
		 FROM rule_versions WHERE is_active = 1 LIMIT 1`)
	v, err := scanRuleVersion(row.Scan)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrap(ErrNotFound, "active rule version")
		}
		return nil, eris.Wrap(err, "sqlite: active rule version")
	}
	return v, nil
}

// SetActiveRuleVersion marks one version active and deactivates the rest in
// the same transaction, keeping at most one active.
func (s *SQLiteStore) SetActiveRuleVersion(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin set active")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE rule_versions SET is_active = 0 WHERE is_active = 1`); err != nil {
		return eris.Wrap(err, "sqlite: deactivate rule versions")
	}
	res, err := tx.ExecContext(ctx, `UPDATE rule_versions SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate rule version %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "rule version %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit set active")
}

func (s *SQLiteStore) ListPivotPrompts(ctx context.Context, stepKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt FROM pivot_prompts WHERE step_key = ? ORDER BY position ASC`, stepKey)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pivot prompts")
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pivot prompt")
		}
		prompts = append(prompts, p)
	}
	return prompts, eris.Wrap(rows.Err(), "sqlite: iterate pivot prompts")
}

// SeedPivotPrompts inserts library prompts, skipping positions already
// present so manual edits survive reseeding.
func (s *SQLiteStore) SeedPivotPrompts(ctx context.Context, prompts map[string][]string) error {
	keys := make([]string, 0, len(prompts))
	for k := range prompts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for i, prompt := range prompts[key] {
			_, err := s.db.ExecContext(ctx,
				`INSERT OR IGNORE INTO pivot_prompts (id, step_key, position, prompt) VALUES (?, ?, ?, ?)`,
				uuid.New().String(), key, i, prompt,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: seed pivot prompt %s/%d", key, i)
			}
		}
	}
	return nil
}

// scanCall scans a call row via the given scan function, converting the
// nullable version columns.
func scanCall(scan func(dest ...any) error) (*model.Call, error) {
	var c model.Call
	var breakdownJSON string
	var ruleVersionID, frameworkVersion sql.NullString

	err := scan(&c.ID, &c.Rep, &c.Transcript, &breakdownJSON, &c.Total,
		&ruleVersionID, &frameworkVersion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(breakdownJSON), &c.Breakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal breakdown")
	}
	if ruleVersionID.Valid {
		c.RuleVersionID = &ruleVersionID.String
	}
	if frameworkVersion.Valid {
		c.FrameworkVersion = &frameworkVersion.String
	}
	return &c, nil
}

func scanRuleVersion(scan func(dest ...any) error) (*model.RuleVersion, error) {
	var v model.RuleVersion
	if err := scan(&v.ID, &v.Name, &v.Label, &v.FrameworkVersion, &v.IsActive, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}
