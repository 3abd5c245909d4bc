package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/referral-engine/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.SeedQueues(context.Background(), model.DefaultQueues()))
	return s
}

func seedMessage(t *testing.T, s *SQLiteStore, externalID string) *model.Message {
	t.Helper()
	m := &model.Message{
		ExternalID: externalID,
		Sender:     "adjuster@carrier.example",
		Subject:    "New Referral - Claim WC-2024-1234",
		BodyRef:    "messages/" + externalID,
		ReceivedAt: time.Now().UTC(),
	}
	created, err := s.CreateMessage(context.Background(), m)
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func seedReferral(t *testing.T, s *SQLiteStore, m *model.Message) *model.Referral {
	t.Helper()
	r := &model.Referral{
		MessageID:         m.ID,
		ClaimNumber:       "WC-2024-1234",
		ClaimantFirstName: "Jane",
		ClaimantLastName:  "Doe",
		Carrier:           "Acme Insurance",
		ReceivedAt:        m.ReceivedAt,
	}
	require.NoError(t, s.CreateReferral(context.Background(), r))
	return r
}

func TestCreateMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := seedMessage(t, s, "msg-001")

	dup := &model.Message{
		ExternalID: "msg-001",
		Sender:     "other@example.com",
		Subject:    "duplicate delivery",
		BodyRef:    "messages/dup",
		ReceivedAt: time.Now().UTC(),
	}
	created, err := s.CreateMessage(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	// The first write wins; the duplicate changed nothing.
	got, err := s.GetMessageByExternalID(ctx, "msg-001")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "adjuster@carrier.example", got.Sender)
}

func TestTransitionMessageCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-002")

	require.NoError(t, s.TransitionMessage(ctx, m.ID, model.MessageStatusNew, model.MessageStatusQueued))

	// Replaying the same transition fails: the row moved on.
	err := s.TransitionMessage(ctx, m.ID, model.MessageStatusNew, model.MessageStatusQueued)
	assert.True(t, eris.Is(err, ErrStale))

	err = s.TransitionMessage(ctx, "no-such-id", model.MessageStatusNew, model.MessageStatusQueued)
	assert.True(t, eris.Is(err, ErrNotFound))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusQueued, got.Status)
}

func TestRecordExtractionFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-003")

	n, err := s.RecordExtractionFailure(ctx, m.ID, "model returned malformed JSON")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.RecordExtractionFailure(ctx, m.ID, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "timeout", got.LastError)
}

func TestExtractionResultsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-004")

	first := &model.ExtractionResult{
		MessageID: m.ID,
		Attempt:   1,
		Fields: map[string]model.ExtractedField{
			model.FieldClaimNumber: {Value: "WC-2024-1234", Confidence: 95},
		},
		Model: "claude-sonnet-4-5",
	}
	require.NoError(t, s.InsertExtractionResult(ctx, first))

	second := &model.ExtractionResult{
		MessageID: m.ID,
		Attempt:   2,
		Fields: map[string]model.ExtractedField{
			model.FieldClaimNumber: {Value: "WC-2024-1234", Confidence: 98},
			model.FieldCarrier:     {Value: "Acme Insurance", Confidence: 90},
		},
	}
	require.NoError(t, s.InsertExtractionResult(ctx, second))

	latest, err := s.LatestExtractionResult(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Attempt)
	assert.Equal(t, 98, latest.Field(model.FieldClaimNumber).Confidence)

	all, err := s.ListExtractionResults(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Attempt)
}

func TestTransitionReferral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedReferral(t, s, seedMessage(t, s, "msg-005"))

	require.NoError(t, s.TransitionReferral(ctx, r.ID, model.ReferralStatusPending, model.ReferralStatusInReview, ReferralUpdate{}))

	now := time.Now().UTC()
	require.NoError(t, s.TransitionReferral(ctx, r.ID, model.ReferralStatusInReview, model.ReferralStatusApproved, ReferralUpdate{ApprovedAt: &now}))

	got, err := s.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.WithinDuration(t, now, *got.ApprovedAt, time.Second)

	// A stale transition from a state the referral already left.
	err = s.TransitionReferral(ctx, r.ID, model.ReferralStatusPending, model.ReferralStatusInReview, ReferralUpdate{})
	assert.True(t, eris.Is(err, ErrStale))
}

func TestTransitionReferralRejection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedReferral(t, s, seedMessage(t, s, "msg-006"))

	require.NoError(t, s.TransitionReferral(ctx, r.ID, model.ReferralStatusPending, model.ReferralStatusInReview, ReferralUpdate{}))
	require.NoError(t, s.TransitionReferral(ctx, r.ID, model.ReferralStatusInReview, model.ReferralStatusRejected,
		ReferralUpdate{RejectionReason: "not a workers comp referral"}))

	got, err := s.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusRejected, got.Status)
	assert.Equal(t, "not a workers comp referral", got.RejectionReason)
}

func TestUpdateReferralField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedReferral(t, s, seedMessage(t, s, "msg-007"))

	require.NoError(t, s.UpdateReferralField(ctx, r.ID, model.FieldCarrier, "Zenith Insurance"))

	got, err := s.GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Zenith Insurance", got.Carrier)

	err = s.UpdateReferralField(ctx, r.ID, "no_such_field", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown referral field")
}

func TestLineItemsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedReferral(t, s, seedMessage(t, s, "msg-008"))

	contrast := false
	items := []model.LineItem{
		{ReferralID: r.ID, LineNo: 1, Description: "MRI left knee without contrast",
			Modality: model.ModalityImaging, BodyRegion: "knee", Laterality: "left",
			WithContrast: &contrast, Confidence: 90, Source: model.LineItemSourceExtraction},
		{ReferralID: r.ID, LineNo: 2, Description: "PT x 12 visits",
			Modality: model.ModalityPhysicalTherapy, Quantity: 12,
			Confidence: 85, Source: model.LineItemSourceExtraction},
	}
	require.NoError(t, s.InsertLineItems(ctx, items))

	got, err := s.ListLineItems(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "MRI left knee without contrast", got[0].Description)
	require.NotNil(t, got[0].WithContrast)
	assert.False(t, *got[0].WithContrast)
	assert.Nil(t, got[1].WithContrast)
	assert.Equal(t, 12, got[1].Quantity)

	got[1].ProcedureCode = "97110"
	got[1].Status = model.LineItemStatusAuthorized
	require.NoError(t, s.UpdateLineItem(ctx, &got[1]))

	after, err := s.ListLineItems(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "97110", after[1].ProcedureCode)
	assert.Equal(t, model.LineItemStatusAuthorized, after[1].Status)

	require.NoError(t, s.DeleteLineItem(ctx, got[0].ID))
	after, err = s.ListLineItems(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestEnqueueIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-009")
	now := time.Now().UTC()

	item := &model.QueueItem{
		Queue:      model.QueueExtraction,
		Entity:     model.MessageRef(m.ID),
		Priority:   model.PriorityMedium,
		EnqueuedAt: now,
		DueAt:      now.Add(15 * time.Minute),
	}
	created, err := s.Enqueue(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &model.QueueItem{
		Queue:      model.QueueExtraction,
		Entity:     model.MessageRef(m.ID),
		EnqueuedAt: now,
		DueAt:      now.Add(15 * time.Minute),
	}
	created, err = s.Enqueue(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	active, err := s.FindActiveItem(ctx, model.QueueExtraction, model.MessageRef(m.ID))
	require.NoError(t, err)
	assert.Equal(t, item.ID, active.ID)
}

func TestEnqueueAfterCompletionCreatesNewItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-010")
	now := time.Now().UTC()

	item := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(m.ID),
		EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	}
	created, err := s.Enqueue(ctx, item)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, s.ClaimItem(ctx, item.ID, "worker-1", now))
	require.NoError(t, s.CompleteItem(ctx, item.ID, "worker-1", now))

	// The slot is free again: a new active item may be created.
	again := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(m.ID),
		EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	}
	created, err = s.Enqueue(ctx, again)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, item.ID, again.ID)
}

func TestClaimLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-011")
	now := time.Now().UTC()

	item := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(m.ID),
		EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	}
	_, err := s.Enqueue(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.ClaimItem(ctx, item.ID, "worker-1", now))

	// Second claim loses the race.
	err = s.ClaimItem(ctx, item.ID, "worker-2", now)
	assert.True(t, eris.Is(err, ErrStale))

	// Only the claim holder may complete.
	err = s.CompleteItem(ctx, item.ID, "worker-2", now)
	assert.True(t, eris.Is(err, ErrStale))
	require.NoError(t, s.CompleteItem(ctx, item.ID, "worker-1", now))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompletePendingItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-011b")
	now := time.Now().UTC()

	item := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(m.ID),
		EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	}
	_, err := s.Enqueue(ctx, item)
	require.NoError(t, err)

	// An unclaimed item may be completed directly.
	require.NoError(t, s.CompleteItem(ctx, item.ID, "coordinator@example.com", now))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestReleaseItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-012")
	now := time.Now().UTC()

	item := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(m.ID),
		EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	}
	_, err := s.Enqueue(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.ClaimItem(ctx, item.ID, "worker-1", now))
	require.NoError(t, s.ReleaseItem(ctx, item.ID, "worker-1", "anthropic overloaded"))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemPending, got.Status)
	assert.Empty(t, got.ClaimedBy)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "anthropic overloaded", got.LastError)
}

func TestClaimNextPriorityOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := seedMessage(t, s, "msg-013a")
	urgent := seedMessage(t, s, "msg-013b")

	_, err := s.Enqueue(ctx, &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(older.ID),
		Priority: model.PriorityMedium, EnqueuedAt: now.Add(-time.Hour), DueAt: now,
	})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(urgent.ID),
		Priority: model.PriorityUrgent, EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	})
	require.NoError(t, err)

	// Urgent wins despite being newer.
	first, err := s.ClaimNext(ctx, model.QueueExtraction, "worker-1", now)
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, first.Entity.ID)
	assert.Equal(t, "worker-1", first.ClaimedBy)

	second, err := s.ClaimNext(ctx, model.QueueExtraction, "worker-1", now)
	require.NoError(t, err)
	assert.Equal(t, older.ID, second.Entity.ID)

	_, err = s.ClaimNext(ctx, model.QueueExtraction, "worker-1", now)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestListQueueItemsOrderedByDueTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := []struct {
		external string
		priority model.Priority
		offset   time.Duration
	}{
		{"msg-013a", model.PriorityUrgent, 30 * time.Minute},
		{"msg-013b", model.PriorityLow, 10 * time.Minute},
		{"msg-013c", model.PriorityMedium, 20 * time.Minute},
	}
	for _, d := range due {
		m := seedMessage(t, s, d.external)
		item := &model.QueueItem{
			Queue: model.QueueExtraction, Entity: model.MessageRef(m.ID),
			Priority: d.priority, EnqueuedAt: now, DueAt: now.Add(d.offset),
		}
		_, err := s.Enqueue(ctx, item)
		require.NoError(t, err)
	}

	// Soonest due first, regardless of priority.
	items, err := s.ListQueueItems(ctx, QueueItemFilter{Queue: model.QueueExtraction})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, model.PriorityLow, items[0].Priority)
	assert.Equal(t, model.PriorityMedium, items[1].Priority)
	assert.Equal(t, model.PriorityUrgent, items[2].Priority)
}

func TestReleaseStaleClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-014")
	now := time.Now().UTC()

	item := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(m.ID),
		EnqueuedAt: now.Add(-time.Hour), DueAt: now.Add(-45 * time.Minute),
	}
	_, err := s.Enqueue(ctx, item)
	require.NoError(t, err)
	require.NoError(t, s.ClaimItem(ctx, item.ID, "worker-gone", now.Add(-30*time.Minute)))

	released, err := s.ReleaseStaleClaims(ctx, now)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, item.ID, released[0].ID)

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// A claim on an item still inside its SLA window is not swept, no
	// matter how long ago it was taken.
	m2 := seedMessage(t, s, "msg-014b")
	fresh := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(m2.ID),
		EnqueuedAt: now.Add(-50 * time.Minute), DueAt: now.Add(15 * time.Minute),
	}
	_, err = s.Enqueue(ctx, fresh)
	require.NoError(t, err)
	require.NoError(t, s.ClaimItem(ctx, fresh.ID, "worker-2", now.Add(-45*time.Minute)))

	released, err = s.ReleaseStaleClaims(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestEscalateOverdue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := seedMessage(t, s, "msg-015a")
	fresh := seedMessage(t, s, "msg-015b")

	over := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(overdue.ID),
		EnqueuedAt: now.Add(-time.Hour), DueAt: now.Add(-45 * time.Minute),
	}
	_, err := s.Enqueue(ctx, over)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(fresh.ID),
		EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	})
	require.NoError(t, err)

	escalated, err := s.EscalateOverdue(ctx, now)
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, over.ID, escalated[0].ID)

	// Escalation fires once per item.
	escalated, err = s.EscalateOverdue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, escalated)

	got, err := s.GetQueueItem(ctx, over.ID)
	require.NoError(t, err)
	assert.True(t, got.Escalated)
	assert.Equal(t, model.QueueItemPending, got.Status)
}

func TestExpireActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-016")
	r := seedReferral(t, s, m)
	now := time.Now().UTC()

	item := &model.QueueItem{
		Queue: model.QueueIntake, Entity: model.ReferralRef(r.ID),
		EnqueuedAt: now, DueAt: now.Add(time.Hour),
	}
	_, err := s.Enqueue(ctx, item)
	require.NoError(t, err)

	n, err := s.ExpireActive(ctx, model.ReferralRef(r.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemExpired, got.Status)

	_, err = s.FindActiveItem(ctx, model.QueueIntake, model.ReferralRef(r.ID))
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestQueueStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := seedMessage(t, s, "msg-017a")
	b := seedMessage(t, s, "msg-017b")

	_, err := s.Enqueue(ctx, &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(a.ID),
		EnqueuedAt: now.Add(-time.Hour), DueAt: now.Add(-45 * time.Minute),
	})
	require.NoError(t, err)
	item := &model.QueueItem{
		Queue: model.QueueExtraction, Entity: model.MessageRef(b.ID),
		EnqueuedAt: now, DueAt: now.Add(15 * time.Minute),
	}
	_, err = s.Enqueue(ctx, item)
	require.NoError(t, err)
	require.NoError(t, s.ClaimItem(ctx, item.ID, "worker-1", now))

	stats, err := s.QueueStats(ctx, now)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, model.QueueExtraction, stats[0].Queue)
	assert.Equal(t, 1, stats[0].Pending)
	assert.Equal(t, 1, stats[0].Claimed)
	assert.Equal(t, 1, stats[0].Overdue)
	assert.Equal(t, model.QueueIntake, stats[1].Queue)
	assert.Zero(t, stats[1].Pending)
}

func TestAuditSeqMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMessage(t, s, "msg-018")
	ref := model.MessageRef(m.ID)

	// Same-timestamp entries still order deterministically by seq.
	at := time.Now().UTC()
	for _, action := range []string{model.AuditMessageIngested, model.AuditEnqueued, model.AuditStatusChanged} {
		e := &model.AuditEntry{Entity: ref, Action: action, Actor: model.SystemActor, CreatedAt: at}
		require.NoError(t, s.AppendAudit(ctx, e))
		assert.Positive(t, e.Seq)
	}

	entries, err := s.ListAudit(ctx, ref)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.AuditMessageIngested, entries[0].Action)
	assert.Equal(t, model.AuditEnqueued, entries[1].Action)
	assert.Equal(t, model.AuditStatusChanged, entries[2].Action)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Less(t, entries[1].Seq, entries[2].Seq)
}

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetCursor(ctx, "INBOX")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SetCursor(ctx, "INBOX", "uid:4120"))
	require.NoError(t, s.SetCursor(ctx, "INBOX", "uid:4150"))

	got, err = s.GetCursor(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "uid:4150", got)
}

func TestSeedICD10(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	codes := []model.ICD10Code{
		{Code: "M54.5", Description: "Low back pain", BodyRegion: "lumbar spine"},
		{Code: "S83.511A", Description: "Sprain of anterior cruciate ligament", BodyRegion: "knee"},
	}
	n, err := s.SeedICD10(ctx, codes)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Reseed is idempotent.
	_, err = s.SeedICD10(ctx, codes)
	require.NoError(t, err)
}

func TestListReferralsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := seedReferral(t, s, seedMessage(t, s, "msg-019a"))
	r2 := seedReferral(t, s, seedMessage(t, s, "msg-019b"))
	require.NoError(t, s.TransitionReferral(ctx, r2.ID, model.ReferralStatusPending, model.ReferralStatusInReview, ReferralUpdate{}))

	pending, err := s.ListReferrals(ctx, ReferralFilter{Status: model.ReferralStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r1.ID, pending[0].ID)

	byClaim, err := s.ListReferrals(ctx, ReferralFilter{ClaimNumber: "WC-2024-1234"})
	require.NoError(t, err)
	assert.Len(t, byClaim, 2)
}

func TestFindReferralsAwaitingReply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parked := &model.Message{
		ExternalID: "msg-020a", ThreadID: "thread-020",
		Sender: "adjuster@carrier.example", BodyRef: "messages/msg-020a",
		ReceivedAt: time.Now().UTC(),
	}
	created, err := s.CreateMessage(ctx, parked)
	require.NoError(t, err)
	require.True(t, created)

	waiting := seedReferral(t, s, parked)
	require.NoError(t, s.TransitionReferral(ctx, waiting.ID, model.ReferralStatusPending, model.ReferralStatusInReview, ReferralUpdate{}))
	require.NoError(t, s.TransitionReferral(ctx, waiting.ID, model.ReferralStatusInReview, model.ReferralStatusNeedsInfo, ReferralUpdate{}))

	// A referral that is not waiting on info stays out of the result.
	seedReferral(t, s, seedMessage(t, s, "msg-020b"))

	got, err := s.FindReferralsAwaitingReply(ctx, "thread-020")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, waiting.ID, got[0].ID)

	// Replies that quote the original message id instead of the thread
	// still correlate.
	got, err = s.FindReferralsAwaitingReply(ctx, "msg-020a")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.FindReferralsAwaitingReply(ctx, "thread-other")
	require.NoError(t, err)
	assert.Empty(t, got)
}
