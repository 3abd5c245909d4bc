// Package ingest admits inbound mail into the pipeline exactly once per
// external message id.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/mail"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/queue"
	"github.com/sells-group/referral-engine/internal/store"
	"github.com/sells-group/referral-engine/internal/workflow"
)

// Gate creates messages idempotently and hands them to the extraction queue.
type Gate struct {
	store    store.Store
	queues   *queue.Manager
	recorder *audit.Recorder
	engine   *workflow.Engine
	now      func() time.Time
}

// GateOption configures the gate.
type GateOption func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithEngine lets the gate reopen parked referrals when a reply arrives
// on their thread.
func WithEngine(e *workflow.Engine) GateOption {
	return func(g *Gate) { g.engine = e }
}

// NewGate wires the gate to its collaborators.
func NewGate(st store.Store, queues *queue.Manager, recorder *audit.Recorder, opts ...GateOption) *Gate {
	g := &Gate{store: st, queues: queues, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ingest records an inbound message and enqueues it for extraction. A
// message already seen (same external id) is a no-op returning the existing
// record with created=false. Missing sender or received time does not block
// ingestion; the message is flagged so reviewers see it.
func (g *Gate) Ingest(ctx context.Context, in mail.Inbound, bodyRef string, attachmentRefs []string) (*model.Message, bool, error) {
	if strings.TrimSpace(in.ExternalID) == "" {
		return nil, false, eris.New("ingest: external id is required")
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ExternalID:     in.ExternalID,
		ThreadID:       in.ThreadID,
		Sender:         in.Sender,
		Subject:        in.Subject,
		BodyRef:        bodyRef,
		AttachmentRefs: attachmentRefs,
		ReceivedAt:     in.ReceivedAt,
		Status:         model.MessageStatusNew,
	}

	var reasons []string
	if strings.TrimSpace(in.Sender) == "" {
		reasons = append(reasons, "missing sender")
	}
	if in.ReceivedAt.IsZero() {
		reasons = append(reasons, "missing received time")
		msg.ReceivedAt = g.now()
	}
	if len(reasons) > 0 {
		msg.Flagged = true
		msg.FlagReason = strings.Join(reasons, "; ")
	}

	created, err := g.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, false, eris.Wrapf(err, "ingest: message %s", in.ExternalID)
	}
	if !created {
		existing, err := g.store.GetMessageByExternalID(ctx, in.ExternalID)
		if err != nil {
			return nil, false, eris.Wrapf(err, "ingest: read back %s", in.ExternalID)
		}
		zap.L().Debug("duplicate message ignored",
			zap.String("external_id", in.ExternalID),
			zap.String("message_id", existing.ID))
		return existing, false, nil
	}

	entity := model.MessageRef(msg.ID)
	g.recorder.Action(ctx, entity, model.AuditMessageIngested, model.SystemActor)
	if msg.Flagged {
		g.recorder.Record(ctx, model.AuditEntry{
			Entity:   entity,
			Action:   model.AuditFlagged,
			NewValue: msg.FlagReason,
		})
	}

	if _, err := g.queues.Enqueue(ctx, model.QueueExtraction, entity, model.PriorityFromSubject(msg.Subject)); err != nil {
		return msg, true, eris.Wrapf(err, "ingest: enqueue %s", msg.ID)
	}
	if err := g.store.TransitionMessage(ctx, msg.ID, model.MessageStatusNew, model.MessageStatusQueued); err != nil {
		return msg, true, eris.Wrapf(err, "ingest: queue transition %s", msg.ID)
	}
	msg.Status = model.MessageStatusQueued

	g.reopenAwaiting(ctx, msg)

	zap.L().Info("message ingested",
		zap.String("message_id", msg.ID),
		zap.String("sender", msg.Sender),
		zap.Bool("flagged", msg.Flagged))
	return msg, true, nil
}

// reopenAwaiting returns needs-info referrals on the message's thread to
// review. Correlation is best effort: failures are logged and never block
// ingestion.
func (g *Gate) reopenAwaiting(ctx context.Context, msg *model.Message) {
	if g.engine == nil || msg.ThreadID == "" {
		return
	}

	waiting, err := g.store.FindReferralsAwaitingReply(ctx, msg.ThreadID)
	if err != nil {
		zap.L().Warn("reply correlation failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	for _, r := range waiting {
		if err := g.engine.Reopen(ctx, r.ID, model.SystemActor); err != nil {
			zap.L().Warn("reopen on reply failed",
				zap.String("referral_id", r.ID), zap.Error(err))
			continue
		}
		zap.L().Info("referral reopened on reply",
			zap.String("referral_id", r.ID),
			zap.String("message_id", msg.ID))
	}
}
