package worker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/enrich"
	"github.com/sells-group/referral-engine/internal/extraction"
	"github.com/sells-group/referral-engine/internal/ingest"
	"github.com/sells-group/referral-engine/internal/mail"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/queue"
	"github.com/sells-group/referral-engine/internal/refdata"
	"github.com/sells-group/referral-engine/internal/resilience"
	"github.com/sells-group/referral-engine/internal/storage"
	"github.com/sells-group/referral-engine/internal/store"
	"github.com/sells-group/referral-engine/internal/workflow"
	"github.com/sells-group/referral-engine/pkg/anthropic"
)

type harness struct {
	worker *Extractor
	store  store.Store
	blobs  *storage.FS
	gate   *ingest.Gate
	client *anthropic.MockClient
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SeedQueues(ctx, model.DefaultQueues()))

	blobs, err := storage.NewFS(t.TempDir(), "test-secret")
	require.NoError(t, err)

	catalog, err := refdata.Load()
	require.NoError(t, err)

	recorder := audit.NewRecorder(st)
	queues := queue.NewManager(st, recorder)
	client := &anthropic.MockClient{}
	adapter := extraction.NewAdapter(client, "claude-sonnet-4-5-20250929", 4096,
		extraction.WithRetryPolicy(resilience.Policy{MaxAttempts: 1}),
		extraction.WithRateLimit(1000))
	engine := workflow.NewEngine(st, queues, recorder)

	return &harness{
		worker: New(st, blobs, queues, adapter, enrich.NewEnricher(catalog), engine, opts...),
		store:  st,
		blobs:  blobs,
		gate:   ingest.NewGate(st, queues, recorder),
		client: client,
	}
}

// ingestMessage stores a body and runs the gate so a pending extraction item
// exists, mirroring what the poller does.
func (h *harness) ingestMessage(t *testing.T, externalID, body string) *model.Message {
	t.Helper()
	ctx := context.Background()
	bodyRef := "messages/" + externalID + "/body.txt"
	_, err := h.blobs.Put(ctx, bodyRef, []byte(body))
	require.NoError(t, err)

	msg, created, err := h.gate.Ingest(ctx, mail.Inbound{
		ExternalID: externalID,
		Sender:     "adjuster@acme.example",
		Subject:    "New Referral",
		ReceivedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}, bodyRef, nil)
	require.NoError(t, err)
	require.True(t, created)
	return msg
}

func modelReply(json string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: json}},
	}
}

const goodReply = `{
	"claim_number": {"value": "WC-2026-1234", "confidence": 95, "source": "email_body"},
	"claimant_first_name": {"value": "Maria", "confidence": 92, "source": "email_body"},
	"claimant_last_name": {"value": "Santos", "confidence": 92, "source": "email_body"},
	"carrier": {"value": "Acme Insurance", "confidence": 90, "source": "email_body"},
	"icd10_code": {"value": "M54.5", "confidence": 88, "source": "email_body"},
	"service_requested": {"value": "MRI lumbar spine without contrast, PT evaluation x 6", "confidence": 85, "source": "email_body"}
}`

func TestProcessNextHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := h.ingestMessage(t, "msg-ok", "Claim WC-2026-1234 for Maria Santos")
	h.client.On("CreateMessage", mock.Anything, mock.Anything).Return(modelReply(goodReply), nil)

	processed, err := h.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := h.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusExtracted, stored.Status)

	// The extraction item is retired and the referral waits in intake.
	_, err = h.store.FindActiveItem(ctx, model.QueueExtraction, model.MessageRef(msg.ID))
	assert.True(t, eris.Is(err, store.ErrNotFound))

	referrals, err := h.store.ListReferrals(ctx, store.ReferralFilter{Status: model.ReferralStatusPending})
	require.NoError(t, err)
	require.Len(t, referrals, 1)
	r := referrals[0]
	assert.Equal(t, "WC-2026-1234", r.ClaimNumber)
	assert.Equal(t, msg.ID, r.MessageID)

	items, err := h.store.ListLineItems(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "MRI", items[0].ServiceType)
	assert.Equal(t, "PT Evaluation", items[1].ServiceType)

	intake, err := h.store.FindActiveItem(ctx, model.QueueIntake, model.ReferralRef(r.ID))
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemPending, intake.Status)
}

func TestProcessNextEnrichesBeforePersisting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := h.ingestMessage(t, "msg-enrich", "body")
	h.client.On("CreateMessage", mock.Anything, mock.Anything).Return(modelReply(goodReply), nil)

	_, err := h.worker.ProcessNext(ctx)
	require.NoError(t, err)

	result, err := h.store.LatestExtractionResult(ctx, msg.ID)
	require.NoError(t, err)
	validated := result.Field(enrich.FieldValidatedICD10)
	assert.Equal(t, "M54.5", validated.Value)
	assert.Equal(t, 93, validated.Confidence)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	h := newHarness(t)
	processed, err := h.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNextMalformedReplyStillCreatesReferral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := h.ingestMessage(t, "msg-garbled", "body")
	h.client.On("CreateMessage", mock.Anything, mock.Anything).Return(modelReply("I could not find any fields."), nil)

	processed, err := h.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	referrals, err := h.store.ListReferrals(ctx, store.ReferralFilter{Status: model.ReferralStatusPending})
	require.NoError(t, err)
	require.Len(t, referrals, 1)
	assert.True(t, referrals[0].NeedsReview)
	assert.Empty(t, referrals[0].ClaimNumber)

	// One placeholder line item at confidence zero.
	items, err := h.store.ListLineItems(ctx, referrals[0].ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Confidence)

	stored, err := h.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusExtracted, stored.Status)
}

func TestProcessNextTransportErrorReleasesForRetry(t *testing.T) {
	h := newHarness(t, WithMaxAttempts(3))
	ctx := context.Background()
	msg := h.ingestMessage(t, "msg-retry", "body")
	h.client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("api: overloaded"))

	processed, err := h.worker.ProcessNext(ctx)
	assert.True(t, processed)
	require.Error(t, err)

	stored, err := h.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExtractionAttempts)
	assert.Contains(t, stored.LastError, "overloaded")

	// Item is pending again so another pass can pick it up.
	item, err := h.store.FindActiveItem(ctx, model.QueueExtraction, model.MessageRef(msg.ID))
	require.NoError(t, err)
	assert.Equal(t, model.QueueItemPending, item.Status)
}

func TestProcessNextExhaustsAttempts(t *testing.T) {
	h := newHarness(t, WithMaxAttempts(2))
	ctx := context.Background()
	msg := h.ingestMessage(t, "msg-dead", "body")
	h.client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("api: overloaded"))

	for i := 0; i < 2; i++ {
		processed, err := h.worker.ProcessNext(ctx)
		assert.True(t, processed)
		require.Error(t, err)
	}

	stored, err := h.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.ExtractionAttempts)

	_, err = h.store.FindActiveItem(ctx, model.QueueExtraction, model.MessageRef(msg.ID))
	assert.True(t, eris.Is(err, store.ErrNotFound))

	// Nothing left to process.
	processed, err := h.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestAttachmentTextsFeedPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ref := "messages/msg-att/attachments/01-notes.txt"
	_, err := h.blobs.Put(ctx, ref, []byte("Authorization AUTH-77"))
	require.NoError(t, err)

	bodyRef := "messages/msg-att/body.txt"
	_, err = h.blobs.Put(ctx, bodyRef, []byte("see attachment"))
	require.NoError(t, err)

	_, created, err := h.gate.Ingest(ctx, mail.Inbound{
		ExternalID: "msg-att",
		Sender:     "adjuster@acme.example",
		Subject:    "Referral",
		ReceivedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}, bodyRef, []string{ref})
	require.NoError(t, err)
	require.True(t, created)

	h.client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1 &&
			strings.Contains(req.Messages[0].Content, "see attachment") &&
			strings.Contains(req.Messages[0].Content, "Authorization AUTH-77")
	})).Return(modelReply(goodReply), nil)

	_, err = h.worker.ProcessNext(ctx)
	require.NoError(t, err)
	h.client.AssertExpectations(t)
}
