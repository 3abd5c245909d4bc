// Package server exposes the review pipeline over HTTP for the operations UI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/provider"
	"github.com/sells-group/referral-engine/internal/queue"
	"github.com/sells-group/referral-engine/internal/store"
	"github.com/sells-group/referral-engine/internal/workflow"
)

// Server routes HTTP requests to the store, queue manager, and workflow engine.
type Server struct {
	store     store.Store
	queues    *queue.Manager
	engine    *workflow.Engine
	providers *provider.Directory
	origins   []string
}

// Option adjusts server behavior.
type Option func(*Server)

// WithAllowedOrigins restricts CORS to the given origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithProviders enables the provider match endpoint for care coordination.
func WithProviders(d *provider.Directory) Option {
	return func(s *Server) { s.providers = d }
}

// New wires a server to its collaborators.
func New(st store.Store, queues *queue.Manager, engine *workflow.Engine, opts ...Option) *Server {
	s := &Server{store: st, queues: queues, engine: engine, origins: []string{"*"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/dashboard", s.handleDashboard)

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", s.handleListQueues)
		r.Get("/{name}/items", s.handleListItems)
	})

	r.Route("/items/{id}", func(r chi.Router) {
		r.Post("/claim", s.handleClaim)
		r.Post("/complete", s.handleComplete)
		r.Post("/release", s.handleRelease)
	})

	r.Route("/referrals", func(r chi.Router) {
		r.Get("/", s.handleListReferrals)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetReferral)
			r.Get("/history", s.handleHistory)
			if s.providers != nil {
				r.Get("/providers", s.handleProviderMatches)
			}
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
			r.Post("/request-info", s.handleRequestInfo)
			r.Post("/reopen", s.handleReopen)
		})
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	zap.L().Info("http server listening", zap.Int("port", port))

	select {
	case err := <-errc:
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return eris.Wrap(srv.Shutdown(shutdownCtx), "server: shutdown")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// errBadRequest marks caller mistakes that map to 400.
type errBadRequest string

func (e errBadRequest) Error() string { return string(e) }

type actorRequest struct {
	Actor  string `json:"actor"`
	Worker string `json:"worker"`
	Reason string `json:"reason"`
	Reply  string `json:"reply_ref"`
}

// actor returns whichever identity field the caller set.
func (a actorRequest) actor() string {
	if a.Actor != "" {
		return a.Actor
	}
	return a.Worker
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encoding response", zap.Error(err))
	}
}

// writeError maps domain errors to status codes with a reason the caller can
// act on.
func writeError(w http.ResponseWriter, err error) {
	var invalid *workflow.InvalidTransitionError
	var notApprovable *workflow.NotApprovableError
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: bad.Error()})
	case eris.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, errorBody{Error: invalid.Error()})
	case errors.As(err, &notApprovable):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: notApprovable.Error()})
	case eris.Is(err, store.ErrStale):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeBody fills v from the request body. An empty body is not an error;
// the handler validates required fields itself.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return eris.Wrap(err, "server: decode body")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queues.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.store.GetQueue(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	filter := store.QueueItemFilter{Queue: name}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.QueueItemStatus(status)
	}
	items, err := s.store.ListQueueItems(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.actor() == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "worker is required"})
		return
	}
	item, err := s.queues.Claim(r.Context(), chi.URLParam(r, "id"), req.actor())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.queues.Complete(r.Context(), chi.URLParam(r, "id"), req.actor()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.queues.Release(r.Context(), chi.URLParam(r, "id"), req.actor(), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReferralFilter{
		Status:      model.ReferralStatus(q.Get("status")),
		Priority:    model.Priority(q.Get("priority")),
		ClaimNumber: q.Get("claim_number"),
	}
	if v := q.Get("needs_review"); v != "" {
		needs := v == "true" || v == "1"
		filter.NeedsReview = &needs
	}
	referrals, err := s.store.ListReferrals(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, referrals)
}

type referralDetail struct {
	model.Referral
	LineItems []model.LineItem `json:"line_items"`
}

func (s *Server) handleGetReferral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ref, err := s.store.GetReferral(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.store.ListLineItems(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, referralDetail{Referral: *ref, LineItems: items})
}

type lineItemMatches struct {
	LineNo      int              `json:"line_no"`
	ServiceType string           `json:"service_type"`
	Matches     []provider.Match `json:"matches"`
}

func (s *Server) handleProviderMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ref, err := s.store.GetReferral(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.store.ListLineItems(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	// Care happens where the claimant lives; jurisdiction is the fallback.
	state := ref.AddressState
	if state == "" {
		state = ref.JurisdictionState
	}

	out := make([]lineItemMatches, 0, len(items))
	for _, li := range items {
		if li.ServiceType == "" {
			continue
		}
		out = append(out, lineItemMatches{
			LineNo:      li.LineNo,
			ServiceType: li.ServiceType,
			Matches: s.providers.FindMatches(provider.Criteria{
				ServiceType: li.ServiceType,
				State:       state,
				Zip:         ref.AddressZip,
				Carrier:     ref.Carrier,
				Limit:       5,
			}),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetReferral(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	entries, err := audit.History(r.Context(), s.store, model.ReferralRef(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) reviewAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string, req actorRequest) error) {
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.actor() == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "actor is required"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id, req); err != nil {
		writeError(w, err)
		return
	}
	ref, err := s.store.GetReferral(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.reviewAction(w, r, func(ctx context.Context, id string, req actorRequest) error {
		return s.engine.Approve(ctx, id, req.actor())
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.reviewAction(w, r, func(ctx context.Context, id string, req actorRequest) error {
		if strings.TrimSpace(req.Reason) == "" {
			return errBadRequest("reason is required")
		}
		return s.engine.Reject(ctx, id, req.Reason, req.actor())
	})
}

func (s *Server) handleRequestInfo(w http.ResponseWriter, r *http.Request) {
	s.reviewAction(w, r, func(ctx context.Context, id string, req actorRequest) error {
		if strings.TrimSpace(req.Reply) == "" {
			return errBadRequest("reply_ref is required")
		}
		return s.engine.RequestInfo(ctx, id, req.Reply, req.actor())
	})
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	s.reviewAction(w, r, func(ctx context.Context, id string, req actorRequest) error {
		return s.engine.Reopen(ctx, id, req.actor())
	})
}

type dashboard struct {
	Queues    []model.QueueStats           `json:"queues"`
	Referrals map[model.ReferralStatus]int `json:"referrals"`
	Messages  map[model.MessageStatus]int  `json:"messages"`
	Flagged   int                          `json:"flagged_messages"`
	Generated time.Time                    `json:"generated_at"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.queues.Stats(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	d := dashboard{
		Queues:    stats,
		Referrals: make(map[model.ReferralStatus]int),
		Messages:  make(map[model.MessageStatus]int),
		Generated: time.Now().UTC(),
	}

	statuses := []model.ReferralStatus{
		model.ReferralStatusPending, model.ReferralStatusInReview,
		model.ReferralStatusNeedsInfo, model.ReferralStatusApproved,
		model.ReferralStatusSubmitted, model.ReferralStatusCompleted,
		model.ReferralStatusRejected,
	}
	for _, status := range statuses {
		refs, err := s.store.ListReferrals(ctx, store.ReferralFilter{Status: status, Limit: 1000})
		if err != nil {
			writeError(w, err)
			return
		}
		if len(refs) > 0 {
			d.Referrals[status] = len(refs)
		}
	}

	for _, status := range []model.MessageStatus{
		model.MessageStatusNew, model.MessageStatusQueued,
		model.MessageStatusExtracting, model.MessageStatusExtracted,
		model.MessageStatusFailed,
	} {
		msgs, err := s.store.ListMessages(ctx, store.MessageFilter{Status: status, Limit: 1000})
		if err != nil {
			writeError(w, err)
			return
		}
		if len(msgs) > 0 {
			d.Messages[status] = len(msgs)
		}
	}

	flagged := true
	flaggedMsgs, err := s.store.ListMessages(ctx, store.MessageFilter{Flagged: &flagged, Limit: 1000})
	if err != nil {
		writeError(w, err)
		return
	}
	d.Flagged = len(flaggedMsgs)

	writeJSON(w, http.StatusOK, d)
}
