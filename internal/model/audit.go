package model

import "time"

// SystemActor is recorded on audit entries written by automated jobs.
const SystemActor = "system"

// Audit action names. Free-form actions are allowed; these cover the
// mutations the engine itself performs.
const (
	AuditMessageIngested = "message_ingested"
	AuditStatusChanged   = "status_changed"
	AuditFieldEdited     = "field_edited"
	AuditEnqueued        = "enqueued"
	AuditClaimed         = "claimed"
	AuditReleased        = "released"
	AuditCompletedItem   = "item_completed"
	AuditClaimExpired    = "claim_expired"
	AuditEscalated       = "escalated"
	AuditReferralCreated = "referral_created"
	AuditLineItemAdded   = "line_item_added"
	AuditLineItemRemoved = "line_item_removed"
	AuditExported        = "exported"
	AuditFlagged         = "flagged"
)

// AuditEntry is one immutable, append-only record of a state mutation.
// Seq is assigned by the store and is strictly monotonic, so history
// reconstruction is deterministic even for same-timestamp entries.
type AuditEntry struct {
	Seq       int64     `json:"seq"`
	Entity    EntityRef `json:"entity"`
	Action    string    `json:"action"`
	Field     string    `json:"field,omitempty"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
