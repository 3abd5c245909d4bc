// Package audit records every state mutation as an append-only trail and
// reconstructs entity history from it.
package audit

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/store"
)

// Recorder appends audit entries. A failed append is logged but never
// fails the mutation it describes; the trail is best-effort by contract,
// the mutation is not.
type Recorder struct {
	store store.Store
}

// NewRecorder returns a Recorder backed by the given store.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st}
}

// Record appends an arbitrary entry.
func (r *Recorder) Record(ctx context.Context, e model.AuditEntry) {
	if e.Actor == "" {
		e.Actor = model.SystemActor
	}
	if err := r.store.AppendAudit(ctx, &e); err != nil {
		zap.L().Error("audit append failed",
			zap.String("entity", e.Entity.String()),
			zap.String("action", e.Action),
			zap.Error(err),
		)
	}
}

// StatusChange records a status transition on an entity.
func (r *Recorder) StatusChange(ctx context.Context, entity model.EntityRef, from, to, actor string) {
	r.Record(ctx, model.AuditEntry{
		Entity:   entity,
		Action:   model.AuditStatusChanged,
		Field:    "status",
		OldValue: from,
		NewValue: to,
		Actor:    actor,
	})
}

// FieldEdit records a single field correction.
func (r *Recorder) FieldEdit(ctx context.Context, entity model.EntityRef, field, oldValue, newValue, actor string) {
	r.Record(ctx, model.AuditEntry{
		Entity:   entity,
		Action:   model.AuditFieldEdited,
		Field:    field,
		OldValue: oldValue,
		NewValue: newValue,
		Actor:    actor,
	})
}

// Action records a named event with no field payload.
func (r *Recorder) Action(ctx context.Context, entity model.EntityRef, action, actor string) {
	r.Record(ctx, model.AuditEntry{Entity: entity, Action: action, Actor: actor})
}

// History returns the full ordered trail for an entity.
func History(ctx context.Context, st store.Store, entity model.EntityRef) ([]model.AuditEntry, error) {
	entries, err := st.ListAudit(ctx, entity)
	return entries, eris.Wrapf(err, "audit: history for %s", entity)
}

// ReplayStatus folds the trail's status changes into the status sequence
// the entity moved through, oldest first. The first element is the status
// the entity started in.
func ReplayStatus(entries []model.AuditEntry) []string {
	var statuses []string
	for _, e := range entries {
		if e.Action != model.AuditStatusChanged {
			continue
		}
		if len(statuses) == 0 {
			statuses = append(statuses, e.OldValue)
		}
		statuses = append(statuses, e.NewValue)
	}
	return statuses
}
