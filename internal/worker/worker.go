// Package worker drives automated extraction: it drains the extraction
// queue, calls the model, enriches the result, and hands validated output
// to the workflow engine.
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/enrich"
	"github.com/sells-group/referral-engine/internal/extraction"
	"github.com/sells-group/referral-engine/internal/lineitem"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/queue"
	"github.com/sells-group/referral-engine/internal/storage"
	"github.com/sells-group/referral-engine/internal/store"
	"github.com/sells-group/referral-engine/internal/workflow"
)

// Extractor processes one extraction queue item at a time.
type Extractor struct {
	store          store.Store
	blobs          storage.Store
	queues         *queue.Manager
	adapter        *extraction.Adapter
	enricher       *enrich.Enricher
	engine         *workflow.Engine
	identity       string
	maxAttempts    int
	maxAttachments int
}

// Option configures the extractor.
type Option func(*Extractor)

// WithIdentity names the worker for queue claims and audit entries.
func WithIdentity(name string) Option {
	return func(w *Extractor) { w.identity = name }
}

// WithMaxAttempts bounds extraction retries per message.
func WithMaxAttempts(n int) Option {
	return func(w *Extractor) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithMaxAttachments bounds how many attachments feed the prompt.
func WithMaxAttachments(n int) Option {
	return func(w *Extractor) {
		if n > 0 {
			w.maxAttachments = n
		}
	}
}

// New wires an extractor to its collaborators.
func New(st store.Store, blobs storage.Store, queues *queue.Manager, adapter *extraction.Adapter, enricher *enrich.Enricher, engine *workflow.Engine, opts ...Option) *Extractor {
	w := &Extractor{
		store:          st,
		blobs:          blobs,
		queues:         queues,
		adapter:        adapter,
		enricher:       enricher,
		engine:         engine,
		identity:       "extraction-worker",
		maxAttempts:    3,
		maxAttachments: 5,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the queue, sleeping for interval when it is empty, until the
// context is cancelled.
func (w *Extractor) Run(ctx context.Context, interval time.Duration) error {
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			zap.L().Error("extraction failed", zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// ProcessNext claims and processes the highest-priority extraction item.
// Returns false when the queue is empty. A processing failure releases or
// retires the item; the error is returned for logging, not for retry by the
// caller.
func (w *Extractor) ProcessNext(ctx context.Context) (bool, error) {
	item, err := w.queues.ClaimNext(ctx, model.QueueExtraction, w.identity)
	if eris.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "worker: claim")
	}

	msg, err := w.store.GetMessage(ctx, item.Entity.ID)
	if err != nil {
		w.giveUp(ctx, item)
		return true, eris.Wrap(err, "worker: load message")
	}

	if err := w.process(ctx, msg, item); err != nil {
		return true, w.fail(ctx, msg, item, err)
	}
	return true, nil
}

func (w *Extractor) process(ctx context.Context, msg *model.Message, item *model.QueueItem) error {
	// A reclaimed item can arrive with the message already extracting.
	if msg.Status == model.MessageStatusQueued {
		if err := w.store.TransitionMessage(ctx, msg.ID, model.MessageStatusQueued, model.MessageStatusExtracting); err != nil {
			return eris.Wrapf(err, "worker: message %s", msg.ID)
		}
		msg.Status = model.MessageStatusExtracting
	}

	body, err := w.blobs.Get(ctx, msg.BodyRef)
	if err != nil {
		return eris.Wrapf(err, "worker: body %s", msg.ID)
	}
	attachmentTexts := w.attachmentTexts(ctx, msg)

	attempt := msg.ExtractionAttempts + 1
	result, err := w.adapter.Extract(ctx, msg.ID, attempt, extraction.Input{
		Sender:          msg.Sender,
		Subject:         msg.Subject,
		Body:            string(body),
		AttachmentTexts: attachmentTexts,
	})
	if err != nil {
		return err
	}

	meta := w.enricher.Enrich(result)
	for _, warning := range meta.Warnings {
		zap.L().Warn("enrichment warning", zap.String("message_id", msg.ID), zap.String("warning", warning))
	}

	if err := w.store.InsertExtractionResult(ctx, result); err != nil {
		return eris.Wrapf(err, "worker: persist extraction %s", msg.ID)
	}

	service := result.Field(model.FieldServiceRequested)
	drafts := lineitem.Decompose(service.Value, service.Confidence)
	w.enricher.ResolveDrafts(drafts)

	referral, err := w.engine.CreateFromExtraction(ctx, msg, result, drafts)
	if err != nil {
		return eris.Wrapf(err, "worker: create referral for %s", msg.ID)
	}

	if err := w.store.TransitionMessage(ctx, msg.ID, msg.Status, model.MessageStatusExtracted); err != nil {
		return eris.Wrapf(err, "worker: finish message %s", msg.ID)
	}
	if err := w.queues.Complete(ctx, item.ID, w.identity); err != nil {
		return eris.Wrapf(err, "worker: complete item %s", item.ID)
	}

	zap.L().Info("message extracted",
		zap.String("message_id", msg.ID),
		zap.String("referral_id", referral.ID),
		zap.Int("fields", len(result.Fields)),
		zap.Int("line_items", len(drafts)),
		zap.Bool("needs_review", referral.NeedsReview))
	return nil
}

// attachmentTexts loads and converts stored attachments best-effort.
// Spreadsheets become tab-separated rows; everything else is used verbatim.
func (w *Extractor) attachmentTexts(ctx context.Context, msg *model.Message) []string {
	var texts []string
	for _, ref := range msg.AttachmentRefs {
		if len(texts) >= w.maxAttachments {
			break
		}
		data, err := w.blobs.Get(ctx, ref)
		if err != nil {
			zap.L().Warn("attachment unavailable", zap.String("ref", ref), zap.Error(err))
			continue
		}
		if strings.HasSuffix(strings.ToLower(ref), ".xlsx") {
			text, err := extraction.TextFromXLSX(data)
			if err != nil {
				zap.L().Warn("unreadable workbook", zap.String("ref", ref), zap.Error(err))
				continue
			}
			texts = append(texts, text)
			continue
		}
		texts = append(texts, string(data))
	}
	return texts
}

// fail records the attempt and either releases the item for another try or
// retires the message once max attempts are exhausted.
func (w *Extractor) fail(ctx context.Context, msg *model.Message, item *model.QueueItem, cause error) error {
	attempts, err := w.store.RecordExtractionFailure(ctx, msg.ID, cause.Error())
	if err != nil {
		zap.L().Error("recording extraction failure", zap.String("message_id", msg.ID), zap.Error(err))
	}

	if attempts < w.maxAttempts {
		if err := w.queues.Release(ctx, item.ID, w.identity, cause.Error()); err != nil {
			zap.L().Error("releasing item", zap.String("item_id", item.ID), zap.Error(err))
		}
		zap.L().Warn("extraction attempt failed",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempts),
			zap.Error(cause))
		return cause
	}

	if err := w.store.TransitionMessage(ctx, msg.ID, msg.Status, model.MessageStatusFailed); err != nil {
		zap.L().Error("marking message failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	w.giveUp(ctx, item)
	zap.L().Error("extraction abandoned",
		zap.String("message_id", msg.ID),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return cause
}

// giveUp retires a queue item whose subject cannot be processed.
func (w *Extractor) giveUp(ctx context.Context, item *model.QueueItem) {
	if err := w.queues.Complete(ctx, item.ID, w.identity); err != nil {
		zap.L().Error("retiring item", zap.String("item_id", item.ID), zap.Error(err))
	}
}
