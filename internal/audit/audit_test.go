package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestRecorderDefaultsActor(t *testing.T) {
	st := newTestStore(t)
	rec := NewRecorder(st)
	ctx := context.Background()
	entity := model.ReferralRef(uuid.NewString())

	rec.Record(ctx, model.AuditEntry{Entity: entity, Action: model.AuditReferralCreated})

	entries, err := st.ListAudit(ctx, entity)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.SystemActor, entries[0].Actor)
}

func TestStatusChangeAndFieldEdit(t *testing.T) {
	st := newTestStore(t)
	rec := NewRecorder(st)
	ctx := context.Background()
	entity := model.ReferralRef(uuid.NewString())

	rec.StatusChange(ctx, entity, "pending", "in_review", "reviewer@example.com")
	rec.FieldEdit(ctx, entity, model.FieldClaimNumber, "WC-1234", "WC-12345", "reviewer@example.com")

	entries, err := History(ctx, st, entity)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, model.AuditStatusChanged, entries[0].Action)
	assert.Equal(t, "status", entries[0].Field)
	assert.Equal(t, "pending", entries[0].OldValue)
	assert.Equal(t, "in_review", entries[0].NewValue)

	assert.Equal(t, model.AuditFieldEdited, entries[1].Action)
	assert.Equal(t, model.FieldClaimNumber, entries[1].Field)
	assert.Equal(t, "WC-12345", entries[1].NewValue)
	assert.Equal(t, "reviewer@example.com", entries[1].Actor)
}

func TestReplayStatus(t *testing.T) {
	st := newTestStore(t)
	rec := NewRecorder(st)
	ctx := context.Background()
	entity := model.ReferralRef(uuid.NewString())

	rec.Action(ctx, entity, model.AuditReferralCreated, model.SystemActor)
	rec.StatusChange(ctx, entity, "pending", "in_review", "a@example.com")
	rec.FieldEdit(ctx, entity, model.FieldServiceRequested, "", "MRI lumbar", "a@example.com")
	rec.StatusChange(ctx, entity, "in_review", "needs_info", "a@example.com")
	rec.StatusChange(ctx, entity, "needs_info", "in_review", "a@example.com")
	rec.StatusChange(ctx, entity, "in_review", "approved", "a@example.com")

	entries, err := History(ctx, st, entity)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"pending", "in_review", "needs_info", "in_review", "approved"},
		ReplayStatus(entries))
}

func TestReplayStatusEmpty(t *testing.T) {
	assert.Empty(t, ReplayStatus(nil))
	assert.Empty(t, ReplayStatus([]model.AuditEntry{
		{Action: model.AuditFieldEdited},
	}))
}
