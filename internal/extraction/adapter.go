// Package extraction turns raw referral emails into confidence-scored
// field maps via the Anthropic API. The adapter owns prompt assembly,
// rate limiting, retries, and response parsing; callers see only an
// ExtractionResult.
package extraction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/resilience"
	"github.com/sells-group/referral-engine/pkg/anthropic"
)

// Input is one email ready for extraction.
type Input struct {
	Sender          string
	Subject         string
	Body            string
	AttachmentTexts []string
}

// Adapter extracts structured referral fields from email text.
type Adapter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	retry     resilience.Policy
	now       func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRateLimit caps requests per second against the API.
func WithRateLimit(rps float64) Option {
	return func(a *Adapter) {
		if rps > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(a *Adapter) { a.retry = p }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter returns an Adapter over the given client.
func NewAdapter(client anthropic.Client, modelID string, maxTokens int64, opts ...Option) *Adapter {
	retry := resilience.DefaultPolicy()
	retry.ShouldRetry = resilience.IsTransient
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	a := &Adapter{
		client:    client,
		model:     modelID,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
		retry:     retry,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Extract runs one extraction attempt against the API. API transport
// failures return an error so the caller can retry the message later; a
// malformed model reply does not — it yields an empty field map that
// flows through review at zero confidence.
func (a *Adapter) Extract(ctx context.Context, messageID string, attempt int, in Input) (*model.ExtractionResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extraction: rate limit wait")
	}

	prompt := BuildPrompt(in.Sender, in.Subject, StripHTML(in.Body), in.AttachmentTexts)

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: message %s attempt %d", messageID, attempt)
	}

	resp.Usage.LogCost(a.model, "extraction")

	fields := ParseResponse(resp.Text())
	if len(fields) == 0 {
		zap.L().Warn("extraction reply unparseable",
			zap.String("message_id", messageID),
			zap.Int("attempt", attempt),
			zap.String("stop_reason", resp.StopReason),
		)
	}

	return &model.ExtractionResult{
		ID:          uuid.NewString(),
		MessageID:   messageID,
		Attempt:     attempt,
		Fields:      fields,
		Model:       a.model,
		ExtractedAt: a.now().UTC(),
	}, nil
}
