// Package store persists messages, referrals, queue items, and the audit
// log. Two implementations exist: SQLite for single-node deployments and
// PostgreSQL for shared ones. All contended mutations are compare-and-set
// updates so concurrent workers never clobber each other.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/referral-engine/internal/model"
)

// Sentinel errors callers branch on. Both stores return these wrapped
// with operation context; match with eris.Is.
var (
	// ErrNotFound means the row does not exist.
	ErrNotFound = eris.New("store: not found")

	// ErrStale means a compare-and-set predicate did not match: the row
	// exists but another actor changed it first.
	ErrStale = eris.New("store: stale state")
)

// MessageFilter specifies criteria for listing messages.
type MessageFilter struct {
	Status  model.MessageStatus `json:"status,omitempty"`
	Flagged *bool               `json:"flagged,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Offset  int                 `json:"offset,omitempty"`
}

// ReferralFilter specifies criteria for listing referrals.
type ReferralFilter struct {
	Status      model.ReferralStatus `json:"status,omitempty"`
	Priority    model.Priority       `json:"priority,omitempty"`
	NeedsReview *bool                `json:"needs_review,omitempty"`
	ClaimNumber string               `json:"claim_number,omitempty"`
	Limit       int                  `json:"limit,omitempty"`
	Offset      int                  `json:"offset,omitempty"`
}

// QueueItemFilter specifies criteria for listing queue items.
type QueueItemFilter struct {
	Queue  string                `json:"queue,omitempty"`
	Status model.QueueItemStatus `json:"status,omitempty"`
	Entity *model.EntityRef      `json:"entity,omitempty"`
	// DueBefore restricts to items with due_at at or before this time.
	DueBefore *time.Time `json:"due_before,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ReferralUpdate carries the columns a status transition may set alongside
// the status itself. Zero values leave the column untouched except the
// pointers, which overwrite when non-nil.
type ReferralUpdate struct {
	RejectionReason string
	ReplyRef        string
	ExportRecordID  string
	NeedsReview     *bool
	ApprovedAt      *time.Time
	SubmittedAt     *time.Time
	CompletedAt     *time.Time
}

// Store defines the persistence interface for the referral pipeline.
type Store interface {
	// Messages
	CreateMessage(ctx context.Context, m *model.Message) (bool, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error)
	TransitionMessage(ctx context.Context, id string, from, to model.MessageStatus) error
	RecordExtractionFailure(ctx context.Context, id string, lastErr string) (int, error)
	FlagMessage(ctx context.Context, id, reason string) error

	// Extraction results
	InsertExtractionResult(ctx context.Context, r *model.ExtractionResult) error
	LatestExtractionResult(ctx context.Context, messageID string) (*model.ExtractionResult, error)
	ListExtractionResults(ctx context.Context, messageID string) ([]model.ExtractionResult, error)

	// Referrals
	CreateReferral(ctx context.Context, r *model.Referral) error
	GetReferral(ctx context.Context, id string) (*model.Referral, error)
	GetReferralByMessage(ctx context.Context, messageID string) (*model.Referral, error)
	ListReferrals(ctx context.Context, filter ReferralFilter) ([]model.Referral, error)
	FindReferralsAwaitingReply(ctx context.Context, threadID string) ([]model.Referral, error)
	TransitionReferral(ctx context.Context, id string, from, to model.ReferralStatus, update ReferralUpdate) error
	UpdateReferralField(ctx context.Context, id, field, value string) error

	// Line items
	InsertLineItems(ctx context.Context, items []model.LineItem) error
	ListLineItems(ctx context.Context, referralID string) ([]model.LineItem, error)
	UpdateLineItem(ctx context.Context, li *model.LineItem) error
	DeleteLineItem(ctx context.Context, id string) error

	// Queues
	SeedQueues(ctx context.Context, queues []model.Queue) error
	GetQueue(ctx context.Context, name string) (*model.Queue, error)
	ListQueues(ctx context.Context) ([]model.Queue, error)

	// Queue items
	Enqueue(ctx context.Context, item *model.QueueItem) (bool, error)
	GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error)
	ListQueueItems(ctx context.Context, filter QueueItemFilter) ([]model.QueueItem, error)
	FindActiveItem(ctx context.Context, queue string, entity model.EntityRef) (*model.QueueItem, error)
	ClaimItem(ctx context.Context, id, worker string, now time.Time) error
	ClaimNext(ctx context.Context, queue, worker string, now time.Time) (*model.QueueItem, error)
	ReleaseItem(ctx context.Context, id, worker, lastErr string) error
	CompleteItem(ctx context.Context, id, worker string, now time.Time) error
	ExpireActive(ctx context.Context, entity model.EntityRef) (int, error)
	ReleaseStaleClaims(ctx context.Context, now time.Time) ([]model.QueueItem, error)
	EscalateOverdue(ctx context.Context, now time.Time) ([]model.QueueItem, error)
	QueueStats(ctx context.Context, now time.Time) ([]model.QueueStats, error)

	// Audit log
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, entity model.EntityRef) ([]model.AuditEntry, error)

	// Ingest cursors
	GetCursor(ctx context.Context, mailbox string) (string, error)
	SetCursor(ctx context.Context, mailbox, cursor string) error

	// Reference data
	SeedICD10(ctx context.Context, codes []model.ICD10Code) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// referralColumns maps extraction field names to referral table columns.
// UpdateReferralField rejects anything not listed here.
var referralColumns = map[string]string{
	model.FieldClaimNumber:       "claim_number",
	model.FieldClaimantFirstName: "claimant_first_name",
	model.FieldClaimantLastName:  "claimant_last_name",
	model.FieldCarrier:           "carrier",
	model.FieldAdjusterName:      "adjuster_name",
	model.FieldAdjusterEmail:     "adjuster_email",
	model.FieldAdjusterPhone:     "adjuster_phone",
	model.FieldDateOfBirth:       "date_of_birth",
	model.FieldDateOfInjury:      "date_of_injury",
	model.FieldJurisdictionState: "jurisdiction_state",
	model.FieldAddressLine1:      "address_line_1",
	model.FieldAddressCity:       "address_city",
	model.FieldAddressState:      "address_state",
	model.FieldAddressZip:        "address_zip",
	model.FieldEmployer:          "employer",
	model.FieldICD10Code:         "icd10_code",
	model.FieldICD10Description:  "icd10_description",
	model.FieldAuthorizationNo:   "authorization_number",
}

// ReferralColumn resolves an extraction field name to its column, with ok
// false for fields that do not map to a referral column.
func ReferralColumn(field string) (string, bool) {
	col, ok := referralColumns[field]
	return col, ok
}

// priorityRank orders claims so urgent work is handed out first.
const priorityRankSQL = `CASE priority
	WHEN 'urgent' THEN 0
	WHEN 'high' THEN 1
	WHEN 'medium' THEN 2
	ELSE 3
END`
