package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/referral-engine/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS messages").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionMessage(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE messages SET status").
		WithArgs("queued", pgxmock.AnyArg(), "msg-1", "new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.TransitionMessage(context.Background(), "msg-1", model.MessageStatusNew, model.MessageStatusQueued)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionMessageStale(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE messages SET status").
		WithArgs("queued", pgxmock.AnyArg(), "msg-1", "new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM messages").
		WithArgs("msg-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	err := s.TransitionMessage(context.Background(), "msg-1", model.MessageStatusNew, model.MessageStatusQueued)
	assert.True(t, eris.Is(err, ErrStale))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionMessageNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE messages SET status").
		WithArgs("queued", pgxmock.AnyArg(), "msg-x", "new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM messages").
		WithArgs("msg-x").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	err := s.TransitionMessage(context.Background(), "msg-x", model.MessageStatusNew, model.MessageStatusQueued)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnqueueConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO queue_items").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	now := time.Now().UTC()
	created, err := s.Enqueue(context.Background(), &model.QueueItem{
		Queue:      model.QueueExtraction,
		Entity:     model.MessageRef("msg-1"),
		EnqueuedAt: now,
		DueAt:      now.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendAudit(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO audit_log").
		WithArgs("message", "msg-1", model.AuditMessageIngested, "", "", "", model.SystemActor, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	e := &model.AuditEntry{
		Entity: model.MessageRef("msg-1"),
		Action: model.AuditMessageIngested,
		Actor:  model.SystemActor,
	}
	require.NoError(t, s.AppendAudit(context.Background(), e))
	assert.Equal(t, int64(42), e.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordExtractionFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE messages SET extraction_attempts").
		WithArgs("boom", pgxmock.AnyArg(), "msg-1").
		WillReturnRows(pgxmock.NewRows([]string{"extraction_attempts"}).AddRow(3))

	n, err := s.RecordExtractionFailure(context.Background(), "msg-1", "boom")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
