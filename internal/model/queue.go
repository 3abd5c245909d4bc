package model

import (
	"fmt"
	"time"
)

// Queue names used across the pipeline.
const (
	QueueExtraction       = "extraction"
	QueueIntake           = "intake"
	QueueCareCoordination = "care_coordination"
)

// Queue is a named pipeline stage with a configured SLA. Static
// configuration seeded at initialization.
type Queue struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	SLA         time.Duration `json:"sla"`
	SortOrder   int           `json:"sort_order"`
	Active      bool          `json:"active"`
}

// DefaultQueues returns the stage configuration seeded at startup.
func DefaultQueues() []Queue {
	return []Queue{
		{Name: QueueExtraction, Description: "Messages awaiting LLM extraction", SLA: 15 * time.Minute, SortOrder: 1, Active: true},
		{Name: QueueIntake, Description: "Referrals requiring data validation and review", SLA: 60 * time.Minute, SortOrder: 2, Active: true},
		{Name: QueueCareCoordination, Description: "Approved referrals ready for provider scheduling", SLA: 240 * time.Minute, SortOrder: 3, Active: true},
	}
}

// EntityKind tags the subject of a queue item or audit entry.
type EntityKind string

const (
	EntityMessage  EntityKind = "message"
	EntityReferral EntityKind = "referral"
)

// EntityRef identifies a queue item's subject as a tagged variant, keeping
// the queue manager agnostic of the entity tables.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (e EntityRef) String() string {
	return fmt.Sprintf("%s/%s", e.Kind, e.ID)
}

// MessageRef builds an EntityRef for a message id.
func MessageRef(id string) EntityRef { return EntityRef{Kind: EntityMessage, ID: id} }

// ReferralRef builds an EntityRef for a referral id.
func ReferralRef(id string) EntityRef { return EntityRef{Kind: EntityReferral, ID: id} }

// QueueItemStatus is the lifecycle state of one unit of queued work.
type QueueItemStatus string

const (
	QueueItemPending   QueueItemStatus = "pending"
	QueueItemClaimed   QueueItemStatus = "claimed"
	QueueItemCompleted QueueItemStatus = "completed"
	QueueItemExpired   QueueItemStatus = "expired"
)

// Active reports whether the item still occupies its (queue, entity) slot.
func (s QueueItemStatus) Active() bool {
	return s == QueueItemPending || s == QueueItemClaimed
}

// QueueItem is one pending/claimed/completed unit of work inside a queue.
// At most one item may be active per (queue, entity) pair.
type QueueItem struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue"`
	Entity   EntityRef       `json:"entity"`
	Priority Priority        `json:"priority"`
	Status   QueueItemStatus `json:"status"`

	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	DueAt       time.Time  `json:"due_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Escalated marks a pending item past its due time. SLA breach is
	// observable, not fatal: the item remains claimable.
	Escalated bool `json:"escalated"`

	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Overdue reports whether the item is past its due time at now.
func (qi *QueueItem) Overdue(now time.Time) bool {
	return now.After(qi.DueAt)
}

// QueueStats summarizes one queue for dashboards.
type QueueStats struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Claimed int    `json:"claimed"`
	Overdue int    `json:"overdue"`
}
