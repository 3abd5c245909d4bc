package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SeedQueues(ctx, model.DefaultQueues()))
	return NewManager(st, audit.NewRecorder(st), opts...), st
}

func TestEnqueueSetsDueFromSLA(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, WithClock(func() time.Time { return base }))
	ctx := context.Background()

	item, err := m.Enqueue(ctx, model.QueueIntake, model.ReferralRef(uuid.NewString()), model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, base.Add(60*time.Minute), item.DueAt)
	assert.Equal(t, model.QueueItemPending, item.Status)
}

func TestEnqueueIdempotentReturnsExisting(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	entity := model.ReferralRef(uuid.NewString())

	first, err := m.Enqueue(ctx, model.QueueIntake, entity, model.PriorityMedium)
	require.NoError(t, err)
	second, err := m.Enqueue(ctx, model.QueueIntake, entity, model.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnqueueUnknownQueue(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Enqueue(context.Background(), "nope", model.ReferralRef(uuid.NewString()), model.PriorityLow)
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestClaimNextOrdersAndAudits(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	low := model.ReferralRef(uuid.NewString())
	urgent := model.ReferralRef(uuid.NewString())
	_, err := m.Enqueue(ctx, model.QueueIntake, low, model.PriorityLow)
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, model.QueueIntake, urgent, model.PriorityUrgent)
	require.NoError(t, err)

	item, err := m.ClaimNext(ctx, model.QueueIntake, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, urgent, item.Entity)
	assert.Equal(t, "worker-1", item.ClaimedBy)

	entries, err := st.ListAudit(ctx, urgent)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditEnqueued, entries[0].Action)
	assert.Equal(t, model.AuditClaimed, entries[1].Action)
	assert.Equal(t, "worker-1", entries[1].Actor)
}

func TestClaimNextEmpty(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.ClaimNext(context.Background(), model.QueueIntake, "worker-1")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestClaimConflictNamesHolder(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	item, err := m.Enqueue(ctx, model.QueueIntake, model.ReferralRef(uuid.NewString()), model.PriorityMedium)
	require.NoError(t, err)
	_, err = m.Claim(ctx, item.ID, "worker-1")
	require.NoError(t, err)

	_, err = m.Claim(ctx, item.ID, "worker-2")
	var conflict *ClaimConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "worker-1", conflict.Holder)
	assert.True(t, eris.Is(err, store.ErrStale))
}

func TestClaimRaceSingleWinner(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	item, err := m.Enqueue(ctx, model.QueueIntake, model.ReferralRef(uuid.NewString()), model.PriorityMedium)
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Claim(ctx, item.ID, fmt.Sprintf("worker-%d", i))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.True(t, eris.Is(err, store.ErrStale))
	}
	assert.Equal(t, 1, won)

	claimed, err := m.store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemClaimed, claimed.Status)
	assert.NotEmpty(t, claimed.ClaimedBy)
}

func TestReleaseRequiresClaimingWorker(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	item, err := m.Enqueue(ctx, model.QueueIntake, model.ReferralRef(uuid.NewString()), model.PriorityMedium)
	require.NoError(t, err)
	_, err = m.Claim(ctx, item.ID, "worker-1")
	require.NoError(t, err)

	err = m.Release(ctx, item.ID, "worker-2", "wrong worker")
	assert.True(t, eris.Is(err, store.ErrStale))

	require.NoError(t, m.Release(ctx, item.ID, "worker-1", "handing back"))
}

func TestCompleteFreesSlot(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	entity := model.ReferralRef(uuid.NewString())

	first, err := m.Enqueue(ctx, model.QueueIntake, entity, model.PriorityMedium)
	require.NoError(t, err)
	_, err = m.Claim(ctx, first.ID, "worker-1")
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, first.ID, "worker-1"))

	second, err := m.Enqueue(ctx, model.QueueIntake, entity, model.PriorityMedium)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSweepReclaimsAndEscalates(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m, st := newTestManager(t, WithClock(clock))
	ctx := context.Background()

	stale := model.ReferralRef(uuid.NewString())
	overdue := model.ReferralRef(uuid.NewString())

	item, err := m.Enqueue(ctx, model.QueueIntake, stale, model.PriorityMedium)
	require.NoError(t, err)
	_, err = m.Claim(ctx, item.ID, "worker-1")
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, model.QueueIntake, overdue, model.PriorityMedium)
	require.NoError(t, err)

	// Inside the intake SLA window nothing moves, however long the claim
	// has been held.
	now = now.Add(45 * time.Minute)
	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Reclaimed)
	assert.Empty(t, res.Escalated)

	held, err := st.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemClaimed, held.Status)
	assert.Equal(t, "worker-1", held.ClaimedBy)

	now = now.Add(75 * time.Minute)
	res, err = m.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, res.Reclaimed, 1)
	assert.Equal(t, stale, res.Reclaimed[0].Entity)
	require.Len(t, res.Escalated, 2)

	got, err := st.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, model.QueueIntake, model.ReferralRef(uuid.NewString()), model.PriorityMedium)
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	byQueue := map[string]model.QueueStats{}
	for _, s := range stats {
		byQueue[s.Queue] = s
	}
	assert.Equal(t, 1, byQueue[model.QueueIntake].Pending)
	assert.Equal(t, 0, byQueue[model.QueueExtraction].Pending)
}
