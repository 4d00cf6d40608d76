package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

// arrayConverter lets []string arguments through the way the pgx driver does.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ss, ok := v.([]string); ok {
		return ss, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMock(t *testing.T) (*DatabaseClient, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewDatabaseClientFromDB(sqlDB), mock
}

func TestMarkSourceProcessingConflict(t *testing.T) {
	c, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'processing'")).
		WithArgs("src-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM knowledge_sources")).
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))

	err := c.MarkSourceProcessing(context.Background(), "src-1")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSourceProcessingMissing(t *testing.T) {
	c, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'processing'")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM knowledge_sources")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := c.MarkSourceProcessing(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStaleSourceFailedGuardsOnUpdatedAt(t *testing.T) {
	c, mock := newMock(t)
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'processing' AND updated_at < $3")).
		WithArgs("src-1", "processing interrupted", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM knowledge_sources")).
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))

	err := c.MarkStaleSourceFailed(context.Background(), "src-1", "processing interrupted", cutoff)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitChunksSwapsGenerationInOneTransaction(t *testing.T) {
	c, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chunks := []models.DocumentChunk{
		{ID: "c0", ChunkIndex: 0, Content: "alpha", TokenCount: 2, TermCount: 1, Metadata: models.ChunkMetadata{CharCount: 5, Position: 0, TotalChunks: 2}},
		{ID: "c1", ChunkIndex: 1, Content: "beta", TokenCount: 1, TermCount: 1, Metadata: models.ChunkMetadata{CharCount: 4, Position: 4, TotalChunks: 2}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, current_generation FROM knowledge_sources WHERE id = $1 FOR UPDATE")).
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "current_generation"}).AddRow("processing", 3))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO document_chunks"))
	prep.ExpectExec().
		WithArgs("c0", "src-1", int64(4), 0, "alpha", 2, 1, `{"char_count":5,"position":0,"total_chunks":2}`, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("c1", "src-1", int64(4), 1, "beta", 1, 1, `{"char_count":4,"position":4,"total_chunks":2}`, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET current_generation = $2, status = 'ready'")).
		WithArgs("src-1", int64(4), 2, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM document_chunks WHERE source_id = $1 AND generation < $2")).
		WithArgs("src-1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	gen, err := c.CommitChunks(context.Background(), "src-1", chunks, at)
	require.NoError(t, err)
	assert.EqualValues(t, 4, gen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitChunksRollsBackOnInsertFailure(t *testing.T) {
	c, mock := newMock(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "current_generation"}).AddRow("processing", 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO document_chunks"))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := c.CommitChunks(context.Background(), "src-1", []models.DocumentChunk{{ID: "c0", Content: "x"}}, at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitChunksRequiresProcessing(t *testing.T) {
	c, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "current_generation"}).AddRow("ready", 2))
	mock.ExpectRollback()

	_, err := c.CommitChunks(context.Background(), "src-1", nil, time.Now())
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchChunksEmptyScopeSkipsQueries(t *testing.T) {
	c, mock := newMock(t)

	got, err := c.SearchChunks(context.Background(), "photosynthesis", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = c.SearchChunks(context.Background(), "the of", []string{"src-1"}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchChunksScoresEveryMatch(t *testing.T) {
	c, mock := newMock(t)
	scope := []string{"src-a", "src-b"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*), COALESCE(avg(term_count), 0)::float8 FROM scoped")).
		WithArgs(scope).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg"}).AddRow(10, 4.0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM unnest($2::text[]) AS t(term)")).
		WithArgs(scope, []string{"chlorophyll", "light"}).
		WillReturnRows(sqlmock.NewRows([]string{"term", "count"}).AddRow("chlorophyll", 2).AddRow("light", 5))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.content_tsv @@ to_tsquery('simple', $2)")).
		WithArgs(scope, "chlorophyll | light").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "source_name", "chunk_index", "content"}).
			AddRow("c1", "src-b", "Botany", 0, "light reflects").
			AddRow("c2", "src-a", "Biology", 3, "chlorophyll absorbs light").
			AddRow("c3", "src-a", "Biology", 1, "chlorophyll chlorophyll pigment"))

	got, err := c.SearchChunks(context.Background(), "Chlorophyll and light", scope, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ChunkID)
	assert.Equal(t, "c3", got[1].ChunkID)
	assert.Greater(t, got[0].Rank, got[1].Rank)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceByIDNotFound(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM knowledge_sources WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := c.GetSourceByID(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
