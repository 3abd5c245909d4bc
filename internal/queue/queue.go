// Package queue manages the staged work queues: enqueueing entities with
// SLA-derived due times, handing items to workers, and sweeping stale
// claims and SLA breaches.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

// ErrEmpty means a claim found no pending work in the queue.
var ErrEmpty = eris.New("queue: no pending items")

// ClaimConflictError reports a claim attempt that lost to another worker.
type ClaimConflictError struct {
	ItemID string
	Holder string
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("queue: item %s is claimed by %s", e.ItemID, e.Holder)
}

// Unwrap lets callers treat the conflict as a stale compare-and-set.
func (e *ClaimConflictError) Unwrap() error { return store.ErrStale }

// Manager coordinates queue item lifecycles on top of the store's
// compare-and-set primitives.
type Manager struct {
	store    store.Store
	recorder *audit.Recorder
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager backed by the given store.
func NewManager(st store.Store, rec *audit.Recorder, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		recorder: rec,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue places an entity into a queue with a due time derived from the
// queue's SLA. If the entity already has an active item in the queue the
// call is a no-op and returns the existing item.
func (m *Manager) Enqueue(ctx context.Context, queue string, entity model.EntityRef, priority model.Priority) (*model.QueueItem, error) {
	q, err := m.store.GetQueue(ctx, queue)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: enqueue into %s", queue)
	}
	if !q.Active {
		return nil, eris.Errorf("queue: %s is not active", queue)
	}

	now := m.now().UTC()
	item := &model.QueueItem{
		ID:         uuid.NewString(),
		Queue:      queue,
		Entity:     entity,
		Priority:   priority,
		Status:     model.QueueItemPending,
		EnqueuedAt: now,
		DueAt:      now.Add(q.SLA),
	}

	created, err := m.store.Enqueue(ctx, item)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: enqueue %s into %s", entity, queue)
	}
	if !created {
		existing, err := m.store.FindActiveItem(ctx, queue, entity)
		if err != nil {
			return nil, eris.Wrapf(err, "queue: find active %s in %s", entity, queue)
		}
		return existing, nil
	}

	m.recorder.Record(ctx, model.AuditEntry{
		Entity:   entity,
		Action:   model.AuditEnqueued,
		Field:    "queue",
		NewValue: queue,
	})
	zap.L().Info("enqueued",
		zap.String("queue", queue),
		zap.String("entity", entity.String()),
		zap.String("priority", string(priority)),
		zap.Time("due_at", item.DueAt),
	)
	return item, nil
}

// Claim claims a specific pending item for a worker.
func (m *Manager) Claim(ctx context.Context, id, worker string) (*model.QueueItem, error) {
	if err := m.store.ClaimItem(ctx, id, worker, m.now().UTC()); err != nil {
		if eris.Is(err, store.ErrStale) {
			if item, gerr := m.store.GetQueueItem(ctx, id); gerr == nil && item.Status == model.QueueItemClaimed {
				return nil, &ClaimConflictError{ItemID: id, Holder: item.ClaimedBy}
			}
		}
		return nil, eris.Wrapf(err, "queue: claim %s", id)
	}
	item, err := m.store.GetQueueItem(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: claim %s", id)
	}
	m.recorder.Record(ctx, model.AuditEntry{
		Entity:   item.Entity,
		Action:   model.AuditClaimed,
		Field:    "queue",
		NewValue: item.Queue,
		Actor:    worker,
	})
	return item, nil
}

// ClaimNext claims the highest-priority oldest pending item in the queue.
// Returns ErrEmpty when nothing is pending.
func (m *Manager) ClaimNext(ctx context.Context, queue, worker string) (*model.QueueItem, error) {
	item, err := m.store.ClaimNext(ctx, queue, worker, m.now().UTC())
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, ErrEmpty
		}
		return nil, eris.Wrapf(err, "queue: claim next in %s", queue)
	}
	m.recorder.Record(ctx, model.AuditEntry{
		Entity:   item.Entity,
		Action:   model.AuditClaimed,
		Field:    "queue",
		NewValue: queue,
		Actor:    worker,
	})
	return item, nil
}

// Release returns a claimed item to pending, incrementing its attempt
// count. Only the claiming worker may release.
func (m *Manager) Release(ctx context.Context, id, worker, reason string) error {
	if err := m.store.ReleaseItem(ctx, id, worker, reason); err != nil {
		return eris.Wrapf(err, "queue: release %s", id)
	}
	item, err := m.store.GetQueueItem(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "queue: release %s", id)
	}
	m.recorder.Record(ctx, model.AuditEntry{
		Entity:   item.Entity,
		Action:   model.AuditReleased,
		Field:    "queue",
		NewValue: item.Queue,
		Actor:    worker,
	})
	return nil
}

// Complete marks a claimed item done. Only the claiming worker may
// complete.
func (m *Manager) Complete(ctx context.Context, id, worker string) error {
	if err := m.store.CompleteItem(ctx, id, worker, m.now().UTC()); err != nil {
		return eris.Wrapf(err, "queue: complete %s", id)
	}
	item, err := m.store.GetQueueItem(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "queue: complete %s", id)
	}
	m.recorder.Record(ctx, model.AuditEntry{
		Entity:   item.Entity,
		Action:   model.AuditCompletedItem,
		Field:    "queue",
		NewValue: item.Queue,
		Actor:    worker,
	})
	return nil
}

// ExpireActive expires any active items for an entity across all queues,
// used when the entity leaves a stage through another path.
func (m *Manager) ExpireActive(ctx context.Context, entity model.EntityRef) error {
	n, err := m.store.ExpireActive(ctx, entity)
	if err != nil {
		return eris.Wrapf(err, "queue: expire active for %s", entity)
	}
	if n > 0 {
		zap.L().Info("expired active items",
			zap.String("entity", entity.String()),
			zap.Int("count", n),
		)
	}
	return nil
}

// SweepResult reports what a sweep pass changed.
type SweepResult struct {
	Reclaimed []model.QueueItem `json:"reclaimed"`
	Escalated []model.QueueItem `json:"escalated"`
}

// Sweep releases claims on items past their due time and flags pending
// items past their due time. Safe to run concurrently; both passes are
// single-statement updates.
func (m *Manager) Sweep(ctx context.Context) (*SweepResult, error) {
	now := m.now().UTC()

	reclaimed, err := m.store.ReleaseStaleClaims(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "queue: sweep stale claims")
	}
	for _, item := range reclaimed {
		m.recorder.Record(ctx, model.AuditEntry{
			Entity:   item.Entity,
			Action:   model.AuditClaimExpired,
			Field:    "queue",
			NewValue: item.Queue,
		})
		zap.L().Warn("claim expired",
			zap.String("queue", item.Queue),
			zap.String("entity", item.Entity.String()),
			zap.Int("attempts", item.Attempts),
		)
	}

	escalated, err := m.store.EscalateOverdue(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "queue: sweep overdue")
	}
	for _, item := range escalated {
		m.recorder.Record(ctx, model.AuditEntry{
			Entity:   item.Entity,
			Action:   model.AuditEscalated,
			Field:    "queue",
			NewValue: item.Queue,
		})
		zap.L().Warn("sla breached",
			zap.String("queue", item.Queue),
			zap.String("entity", item.Entity.String()),
			zap.Time("due_at", item.DueAt),
		)
	}

	return &SweepResult{Reclaimed: reclaimed, Escalated: escalated}, nil
}

// Stats returns per-queue counts of pending, claimed, and overdue items.
func (m *Manager) Stats(ctx context.Context) ([]model.QueueStats, error) {
	stats, err := m.store.QueueStats(ctx, m.now().UTC())
	return stats, eris.Wrap(err, "queue: stats")
}
