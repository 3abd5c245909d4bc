// Package workflow owns referral status transitions. Every status change
// goes through the engine's transition table; nothing else writes the
// status column.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/queue"
	"github.com/sells-group/referral-engine/internal/store"
)

// transitions is the allowed edge set of the referral state machine, kept
// as data so the machine is inspectable and testable without exercising
// each operation.
var transitions = map[model.ReferralStatus][]model.ReferralStatus{
	model.ReferralStatusPending:   {model.ReferralStatusInReview},
	model.ReferralStatusInReview:  {model.ReferralStatusApproved, model.ReferralStatusNeedsInfo, model.ReferralStatusRejected},
	model.ReferralStatusNeedsInfo: {model.ReferralStatusInReview},
	model.ReferralStatusApproved:  {model.ReferralStatusSubmitted},
	model.ReferralStatusSubmitted: {model.ReferralStatusCompleted},
}

// InvalidTransitionError reports a status change the state machine does
// not define.
type InvalidTransitionError struct {
	From model.ReferralStatus
	To   model.ReferralStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("workflow: no transition from %s to %s", e.From, e.To)
}

// Allowed reports whether the state machine defines the from→to edge.
func Allowed(from, to model.ReferralStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NotApprovableError reports why a referral failed the approve guard.
type NotApprovableError struct {
	MissingFields   []string
	NoValidLineItem bool
}

func (e *NotApprovableError) Error() string {
	var reasons []string
	if len(e.MissingFields) > 0 {
		reasons = append(reasons, "missing "+strings.Join(e.MissingFields, ", "))
	}
	if e.NoValidLineItem {
		reasons = append(reasons, "no valid line item")
	}
	return "workflow: not approvable: " + strings.Join(reasons, "; ")
}

// Engine drives referrals through intake, approval, and submission.
type Engine struct {
	store    store.Store
	queues   *queue.Manager
	recorder *audit.Recorder
	policy   model.ReviewPolicy

	// confirmTimeout is how long a submitted referral waits for downstream
	// confirmation before CompleteStale closes it assuming success.
	confirmTimeout time.Duration

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPolicy overrides the confidence review policy.
func WithPolicy(p model.ReviewPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithConfirmTimeout sets the submitted→completed auto-close window.
func WithConfirmTimeout(d time.Duration) Option {
	return func(e *Engine) { e.confirmTimeout = d }
}

// NewEngine returns an Engine over the given store and queue manager.
func NewEngine(st store.Store, queues *queue.Manager, rec *audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		queues:         queues,
		recorder:       rec,
		policy:         model.DefaultReviewPolicy(),
		confirmTimeout: 24 * time.Hour,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateFromExtraction materializes a referral and its line items from an
// extraction result and places it in the intake queue. NeedsReview is set
// from the confidence policy over all extracted fields.
func (e *Engine) CreateFromExtraction(ctx context.Context, msg *model.Message, result *model.ExtractionResult, drafts []model.LineItemDraft) (*model.Referral, error) {
	now := e.now().UTC()
	r := &model.Referral{
		ID:           uuid.NewString(),
		MessageID:    msg.ID,
		ExtractionID: result.ID,

		ClaimNumber:       result.Value(model.FieldClaimNumber),
		ClaimantFirstName: result.Value(model.FieldClaimantFirstName),
		ClaimantLastName:  result.Value(model.FieldClaimantLastName),
		Carrier:           result.Value(model.FieldCarrier),
		AdjusterName:      result.Value(model.FieldAdjusterName),
		AdjusterEmail:     result.Value(model.FieldAdjusterEmail),
		AdjusterPhone:     result.Value(model.FieldAdjusterPhone),
		DateOfBirth:       result.Value(model.FieldDateOfBirth),
		DateOfInjury:      result.Value(model.FieldDateOfInjury),
		JurisdictionState: result.Value(model.FieldJurisdictionState),
		AddressLine1:      result.Value(model.FieldAddressLine1),
		AddressCity:       result.Value(model.FieldAddressCity),
		AddressState:      result.Value(model.FieldAddressState),
		AddressZip:        result.Value(model.FieldAddressZip),
		Employer:          result.Value(model.FieldEmployer),
		ICD10Code:         result.Value(model.FieldICD10Code),
		ICD10Description:  result.Value(model.FieldICD10Description),
		AuthorizationNo:   result.Value(model.FieldAuthorizationNo),

		Status:      model.ReferralStatusPending,
		Priority:    model.PriorityFromSubject(msg.Subject),
		NeedsReview: e.policy.NeedsReview(result.Fields),
		ReceivedAt:  msg.ReceivedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.CreateReferral(ctx, r); err != nil {
		return nil, eris.Wrapf(err, "workflow: create referral for message %s", msg.ID)
	}

	items := make([]model.LineItem, 0, len(drafts))
	for i, d := range drafts {
		items = append(items, model.LineItem{
			ID:            uuid.NewString(),
			ReferralID:    r.ID,
			LineNo:        i + 1,
			Description:   d.Description,
			ServiceType:   d.ServiceType,
			Modality:      d.Modality,
			BodyRegion:    d.BodyRegion,
			Laterality:    d.Laterality,
			WithContrast:  d.WithContrast,
			Quantity:      d.Quantity,
			ProcedureCode: d.ProcedureCode,
			Confidence:    d.Confidence,
			Source:        model.LineItemSourceExtraction,
			Status:        model.LineItemStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if err := e.store.InsertLineItems(ctx, items); err != nil {
		return nil, eris.Wrapf(err, "workflow: insert line items for referral %s", r.ID)
	}

	e.recorder.Record(ctx, model.AuditEntry{
		Entity:   model.ReferralRef(r.ID),
		Action:   model.AuditReferralCreated,
		Field:    "message_id",
		NewValue: msg.ID,
	})

	if _, err := e.queues.Enqueue(ctx, model.QueueIntake, model.ReferralRef(r.ID), r.Priority); err != nil {
		return nil, eris.Wrapf(err, "workflow: enqueue referral %s", r.ID)
	}

	zap.L().Info("referral created",
		zap.String("referral_id", r.ID),
		zap.String("message_id", msg.ID),
		zap.String("priority", string(r.Priority)),
		zap.Bool("needs_review", r.NeedsReview),
	)
	return r, nil
}

// transition applies one edge of the state machine with CAS semantics and
// records the audit entry.
func (e *Engine) transition(ctx context.Context, id string, from, to model.ReferralStatus, update store.ReferralUpdate, actor string) error {
	if !Allowed(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	if err := e.store.TransitionReferral(ctx, id, from, to, update); err != nil {
		return eris.Wrapf(err, "workflow: transition %s %s->%s", id, from, to)
	}
	e.recorder.StatusChange(ctx, model.ReferralRef(id), string(from), string(to), actor)
	return nil
}

// BeginReview moves a pending referral into review.
func (e *Engine) BeginReview(ctx context.Context, id, actor string) error {
	return e.transition(ctx, id, model.ReferralStatusPending, model.ReferralStatusInReview, store.ReferralUpdate{}, actor)
}

// ClaimIntake claims the next intake queue item and moves its referral
// into review. Returns queue.ErrEmpty when nothing is pending.
func (e *Engine) ClaimIntake(ctx context.Context, worker string) (*model.Referral, *model.QueueItem, error) {
	item, err := e.queues.ClaimNext(ctx, model.QueueIntake, worker)
	if err != nil {
		return nil, nil, err
	}

	r, err := e.store.GetReferral(ctx, item.Entity.ID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "workflow: load claimed referral %s", item.Entity.ID)
	}
	// A released-and-reclaimed item finds the referral already in review.
	if r.Status == model.ReferralStatusPending {
		if err := e.BeginReview(ctx, r.ID, worker); err != nil {
			return nil, nil, err
		}
		r.Status = model.ReferralStatusInReview
	}
	return r, item, nil
}

// EditField corrects one referral field during review, recording old and
// new values. Only reviewable referrals accept edits.
func (e *Engine) EditField(ctx context.Context, id, field, value, actor string) error {
	r, err := e.store.GetReferral(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "workflow: edit field on %s", id)
	}
	if r.Status != model.ReferralStatusInReview && r.Status != model.ReferralStatusNeedsInfo {
		return eris.Errorf("workflow: referral %s is %s, not editable", id, r.Status)
	}

	old := referralFieldValue(r, field)
	if err := e.store.UpdateReferralField(ctx, id, field, value); err != nil {
		return eris.Wrapf(err, "workflow: edit field %s on %s", field, id)
	}
	e.recorder.FieldEdit(ctx, model.ReferralRef(id), field, old, value, actor)
	return nil
}

// Approve moves an in-review referral to approved and queues it for care
// coordination. The guard requires every critical field present and at
// least one valid line item.
func (e *Engine) Approve(ctx context.Context, id, actor string) error {
	r, err := e.store.GetReferral(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "workflow: approve %s", id)
	}

	guard := &NotApprovableError{MissingFields: r.MissingCriticalFields()}
	items, err := e.store.ListLineItems(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "workflow: approve %s", id)
	}
	guard.NoValidLineItem = true
	for i := range items {
		if items[i].Valid() {
			guard.NoValidLineItem = false
			break
		}
	}
	if len(guard.MissingFields) > 0 || guard.NoValidLineItem {
		return guard
	}

	now := e.now().UTC()
	if err := e.transition(ctx, id, r.Status, model.ReferralStatusApproved,
		store.ReferralUpdate{ApprovedAt: &now}, actor); err != nil {
		return err
	}

	if err := e.settleItem(ctx, model.QueueIntake, id, actor); err != nil {
		return err
	}
	if _, err := e.queues.Enqueue(ctx, model.QueueCareCoordination, model.ReferralRef(id), r.Priority); err != nil {
		return eris.Wrapf(err, "workflow: queue approved referral %s", id)
	}
	return nil
}

// settleItem closes the referral's active item in a queue: completed when
// the acting worker holds the claim, expired otherwise.
func (e *Engine) settleItem(ctx context.Context, queueName, id, actor string) error {
	item, err := e.store.FindActiveItem(ctx, queueName, model.ReferralRef(id))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil
		}
		return eris.Wrapf(err, "workflow: settle %s item for %s", queueName, id)
	}
	if item.Status == model.QueueItemClaimed && item.ClaimedBy == actor {
		return e.queues.Complete(ctx, item.ID, actor)
	}
	return e.queues.ExpireActive(ctx, model.ReferralRef(id))
}

// RequestInfo parks an in-review referral while the reviewer waits on the
// adjuster, recording the outbound reply reference.
func (e *Engine) RequestInfo(ctx context.Context, id, replyRef, actor string) error {
	return e.transition(ctx, id, model.ReferralStatusInReview, model.ReferralStatusNeedsInfo,
		store.ReferralUpdate{ReplyRef: replyRef}, actor)
}

// Reopen returns a parked referral to review once the missing information
// arrives.
func (e *Engine) Reopen(ctx context.Context, id, actor string) error {
	return e.transition(ctx, id, model.ReferralStatusNeedsInfo, model.ReferralStatusInReview,
		store.ReferralUpdate{}, actor)
}

// Reject terminally refuses an in-review referral. A reason is required.
func (e *Engine) Reject(ctx context.Context, id, reason, actor string) error {
	if strings.TrimSpace(reason) == "" {
		return eris.New("workflow: rejection requires a reason")
	}
	if err := e.transition(ctx, id, model.ReferralStatusInReview, model.ReferralStatusRejected,
		store.ReferralUpdate{RejectionReason: reason}, actor); err != nil {
		return err
	}
	return e.settleItem(ctx, model.QueueIntake, id, actor)
}

// MarkSubmitted records a successful downstream export.
func (e *Engine) MarkSubmitted(ctx context.Context, id, exportRecordID, actor string) error {
	now := e.now().UTC()
	if err := e.transition(ctx, id, model.ReferralStatusApproved, model.ReferralStatusSubmitted,
		store.ReferralUpdate{SubmittedAt: &now, ExportRecordID: exportRecordID}, actor); err != nil {
		return err
	}
	if err := e.settleItem(ctx, model.QueueCareCoordination, id, actor); err != nil {
		return err
	}
	e.recorder.Record(ctx, model.AuditEntry{
		Entity:   model.ReferralRef(id),
		Action:   model.AuditExported,
		Field:    "export_record_id",
		NewValue: exportRecordID,
		Actor:    actor,
	})
	return nil
}

// Confirm closes a submitted referral on downstream confirmation.
func (e *Engine) Confirm(ctx context.Context, id, actor string) error {
	now := e.now().UTC()
	if err := e.transition(ctx, id, model.ReferralStatusSubmitted, model.ReferralStatusCompleted,
		store.ReferralUpdate{CompletedAt: &now}, actor); err != nil {
		return err
	}
	return e.queues.ExpireActive(ctx, model.ReferralRef(id))
}

// CompleteStale closes submitted referrals whose confirmation window has
// lapsed, assuming downstream success. Returns the ids it closed.
func (e *Engine) CompleteStale(ctx context.Context) ([]string, error) {
	referrals, err := e.store.ListReferrals(ctx, store.ReferralFilter{Status: model.ReferralStatusSubmitted})
	if err != nil {
		return nil, eris.Wrap(err, "workflow: list submitted")
	}

	cutoff := e.now().UTC().Add(-e.confirmTimeout)
	var closed []string
	for _, r := range referrals {
		if r.SubmittedAt == nil || r.SubmittedAt.After(cutoff) {
			continue
		}
		if err := e.Confirm(ctx, r.ID, model.SystemActor); err != nil {
			if eris.Is(err, store.ErrStale) || eris.Is(err, store.ErrNotFound) {
				continue
			}
			return closed, err
		}
		zap.L().Info("auto-completed submitted referral",
			zap.String("referral_id", r.ID),
			zap.Timep("submitted_at", r.SubmittedAt),
		)
		closed = append(closed, r.ID)
	}
	return closed, nil
}

// referralFieldValue reads the current value of an editable field off the
// loaded referral for audit old-value capture.
func referralFieldValue(r *model.Referral, field string) string {
	switch field {
	case model.FieldClaimNumber:
		return r.ClaimNumber
	case model.FieldClaimantFirstName:
		return r.ClaimantFirstName
	case model.FieldClaimantLastName:
		return r.ClaimantLastName
	case model.FieldCarrier:
		return r.Carrier
	case model.FieldAdjusterName:
		return r.AdjusterName
	case model.FieldAdjusterEmail:
		return r.AdjusterEmail
	case model.FieldAdjusterPhone:
		return r.AdjusterPhone
	case model.FieldDateOfBirth:
		return r.DateOfBirth
	case model.FieldDateOfInjury:
		return r.DateOfInjury
	case model.FieldJurisdictionState:
		return r.JurisdictionState
	case model.FieldAddressLine1:
		return r.AddressLine1
	case model.FieldAddressCity:
		return r.AddressCity
	case model.FieldAddressState:
		return r.AddressState
	case model.FieldAddressZip:
		return r.AddressZip
	case model.FieldEmployer:
		return r.Employer
	case model.FieldICD10Code:
		return r.ICD10Code
	case model.FieldICD10Description:
		return r.ICD10Description
	case model.FieldAuthorizationNo:
		return r.AuthorizationNo
	}
	return ""
}
