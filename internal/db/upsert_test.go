package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestBulkUpsertEmptyRows(t *testing.T) {
	mock := newMockPool(t)

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "pivot_prompts",
		Columns:      []string{"id", "step_key", "position", "prompt"},
		ConflictKeys: []string{"step_key", "position"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertValidation(t *testing.T) {
	mock := newMockPool(t)
	rows := [][]any{{"id1", "qualify", 0, "Is there budget?"}}

	_, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "pivot_prompts",
		ConflictKeys: []string{"step_key"},
	}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:   "pivot_prompts",
		Columns: []string{"id"},
	}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestBulkUpsertSkipExisting(t *testing.T) {
	mock := newMockPool(t)
	rows := [][]any{
		{"id1", "qualify", 0, "Is there budget?"},
		{"id2", "qualify", 1, "Who signs off?"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_pivot_prompts"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_pivot_prompts"}, []string{"id", "step_key", "position", "prompt"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "pivot_prompts" .* ON CONFLICT \("step_key", "position"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "pivot_prompts",
		Columns:      []string{"id", "step_key", "position", "prompt"},
		ConflictKeys: []string{"step_key", "position"},
		SkipExisting: true,
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"pivot_prompts"`, sanitizeTable("pivot_prompts"))
	assert.Equal(t, `"audit"."score_history"`, sanitizeTable("audit.score_history"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"a", "b"`, quoteAndJoin([]string{"a", "b"}))
}
