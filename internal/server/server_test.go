package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/provider"
	"github.com/sells-group/referral-engine/internal/queue"
	"github.com/sells-group/referral-engine/internal/store"
	"github.com/sells-group/referral-engine/internal/workflow"
)

type testAPI struct {
	handler http.Handler
	store   store.Store
	queues  *queue.Manager
	engine  *workflow.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SeedQueues(ctx, model.DefaultQueues()))

	rec := audit.NewRecorder(st)
	queues := queue.NewManager(st, rec)
	engine := workflow.NewEngine(st, queues, rec)
	return &testAPI{
		handler: New(st, queues, engine).Router(),
		store:   st,
		queues:  queues,
		engine:  engine,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

// seedReferral persists a pending referral with one valid line item.
func (a *testAPI) seedReferral(t *testing.T) *model.Referral {
	t.Helper()
	ctx := context.Background()

	msg := &model.Message{
		ID:         uuid.NewString(),
		ExternalID: uuid.NewString(),
		Sender:     "adjuster@carrier.example",
		Subject:    "New referral",
		BodyRef:    "bodies/" + uuid.NewString(),
		ReceivedAt: time.Now().UTC().Truncate(time.Second),
		Status:     model.MessageStatusExtracted,
	}
	created, err := a.store.CreateMessage(ctx, msg)
	require.NoError(t, err)
	require.True(t, created)

	result := &model.ExtractionResult{
		ID:        uuid.NewString(),
		MessageID: msg.ID,
		Attempt:   1,
		Fields: map[string]model.ExtractedField{
			model.FieldClaimNumber:       {Value: "WC-2026-1234", Confidence: 95},
			model.FieldClaimantFirstName: {Value: "Maria", Confidence: 92},
			model.FieldClaimantLastName:  {Value: "Santos", Confidence: 92},
			model.FieldCarrier:           {Value: "Acme Insurance", Confidence: 90},
		},
		Model:       "claude-sonnet-4-5-20250929",
		ExtractedAt: time.Now().UTC(),
	}
	require.NoError(t, a.store.InsertExtractionResult(ctx, result))

	r, err := a.engine.CreateFromExtraction(ctx, msg, result, []model.LineItemDraft{{
		Description: "MRI lumbar spine",
		ServiceType: "MRI",
		Modality:    model.ModalityImaging,
		Confidence:  85,
	}})
	require.NoError(t, err)
	return r
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestListQueuesAndItems(t *testing.T) {
	a := newTestAPI(t)
	r := a.seedReferral(t)

	w := a.do(t, http.MethodGet, "/queues", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats []model.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats, 3)

	w = a.do(t, http.MethodGet, "/queues/intake/items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []model.QueueItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, r.ID, items[0].Entity.ID)

	w = a.do(t, http.MethodGet, "/queues/no-such-queue/items", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClaimCompleteReleaseEndpoints(t *testing.T) {
	a := newTestAPI(t)
	r := a.seedReferral(t)
	ctx := context.Background()

	item, err := a.store.FindActiveItem(ctx, model.QueueIntake, model.ReferralRef(r.ID))
	require.NoError(t, err)

	w := a.do(t, http.MethodPost, "/items/"+item.ID+"/claim", map[string]string{"worker": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	// Second claim by another worker conflicts.
	w = a.do(t, http.MethodPost, "/items/"+item.ID+"/claim", map[string]string{"worker": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Wrong holder cannot release.
	w = a.do(t, http.MethodPost, "/items/"+item.ID+"/release", map[string]string{"worker": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/items/"+item.ID+"/release", map[string]string{"worker": "alice", "reason": "lunch"})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/items/"+item.ID+"/claim", map[string]string{"worker": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodPost, "/items/"+item.ID+"/complete", map[string]string{"worker": "bob"})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/items/"+uuid.NewString()+"/claim", map[string]string{"worker": "alice"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPost, "/items/"+item.ID+"/claim", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReferralEndpoints(t *testing.T) {
	a := newTestAPI(t)
	r := a.seedReferral(t)

	w := a.do(t, http.MethodGet, "/referrals?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []model.Referral
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	w = a.do(t, http.MethodGet, "/referrals/"+r.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		model.Referral
		LineItems []model.LineItem `json:"line_items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "WC-2026-1234", detail.ClaimNumber)
	require.Len(t, detail.LineItems, 1)

	w = a.do(t, http.MethodGet, "/referrals/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	r := a.seedReferral(t)
	ctx := context.Background()

	// Approving straight from pending is not a defined transition.
	w := a.do(t, http.MethodPost, "/referrals/"+r.ID+"/approve", map[string]string{"actor": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, a.engine.BeginReview(ctx, r.ID, "alice"))

	w = a.do(t, http.MethodPost, "/referrals/"+r.ID+"/request-info", map[string]string{"actor": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/referrals/"+r.ID+"/request-info",
		map[string]string{"actor": "alice", "reply_ref": "reply-77"})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/referrals/"+r.ID+"/reopen", map[string]string{"actor": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/referrals/"+r.ID+"/approve", map[string]string{"actor": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	var approved model.Referral
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &approved))
	assert.Equal(t, model.ReferralStatusApproved, approved.Status)

	// Rejection requires a reason, and an approved referral cannot be rejected.
	w = a.do(t, http.MethodPost, "/referrals/"+r.ID+"/reject", map[string]string{"actor": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(t, http.MethodPost, "/referrals/"+r.ID+"/reject",
		map[string]string{"actor": "alice", "reason": "duplicate"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApproveGuardReturns422(t *testing.T) {
	a := newTestAPI(t)
	r := a.seedReferral(t)
	ctx := context.Background()

	require.NoError(t, a.engine.BeginReview(ctx, r.ID, "alice"))
	require.NoError(t, a.engine.EditField(ctx, r.ID, model.FieldCarrier, "", "alice"))

	w := a.do(t, http.MethodPost, "/referrals/"+r.ID+"/approve", map[string]string{"actor": "alice"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "carrier")
}

func TestHistoryEndpoint(t *testing.T) {
	a := newTestAPI(t)
	r := a.seedReferral(t)
	require.NoError(t, a.engine.BeginReview(context.Background(), r.ID, "alice"))

	w := a.do(t, http.MethodGet, "/referrals/"+r.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []model.AuditEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, model.AuditReferralCreated, entries[0].Action)

	w = a.do(t, http.MethodGet, "/referrals/"+uuid.NewString()+"/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviderMatchesEndpoint(t *testing.T) {
	api := newTestAPI(t)
	dir, err := provider.Load()
	require.NoError(t, err)
	api.handler = New(api.store, api.queues, api.engine, WithProviders(dir)).Router()

	r := api.seedReferral(t)

	w := api.do(t, http.MethodGet, "/referrals/"+r.ID+"/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var lines []lineItemMatches
	require.NoError(t, json.NewDecoder(w.Body).Decode(&lines))
	require.Len(t, lines, 1)
	assert.Equal(t, "MRI", lines[0].ServiceType)
	require.NotEmpty(t, lines[0].Matches)

	// The referral's carrier drives the rate lookup.
	require.NotNil(t, lines[0].Matches[0].Rate)
	assert.Equal(t, "Acme Insurance", lines[0].Matches[0].Rate.Carrier)

	w = api.do(t, http.MethodGet, "/referrals/"+uuid.NewString()+"/providers", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDashboard(t *testing.T) {
	a := newTestAPI(t)
	a.seedReferral(t)

	w := a.do(t, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var d struct {
		Queues    []model.QueueStats           `json:"queues"`
		Referrals map[model.ReferralStatus]int `json:"referrals"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Len(t, d.Queues, 3)
	assert.Equal(t, 1, d.Referrals[model.ReferralStatusPending])
}
