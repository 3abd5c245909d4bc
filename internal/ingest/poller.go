package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/referral-engine/internal/mail"
	"github.com/sells-group/referral-engine/internal/resilience"
	"github.com/sells-group/referral-engine/internal/storage"
	"github.com/sells-group/referral-engine/internal/store"
)

// Poller drains a mailbox on an interval, persists raw artifacts, and feeds
// each message through the gate.
type Poller struct {
	client      mail.Client
	store       store.Store
	blobs       storage.Store
	gate        *Gate
	mailbox     string
	interval    time.Duration
	concurrency int
	retry       resilience.Policy
}

// PollerOption configures the poller.
type PollerOption func(*Poller)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithConcurrency bounds how many messages are ingested in parallel.
func WithConcurrency(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRetryPolicy overrides the artifact-write retry policy.
func WithRetryPolicy(policy resilience.Policy) PollerOption {
	return func(p *Poller) { p.retry = policy }
}

// NewPoller wires a poller for one mailbox.
func NewPoller(client mail.Client, st store.Store, blobs storage.Store, gate *Gate, mailbox string, opts ...PollerOption) *Poller {
	p := &Poller{
		client:      client,
		store:       st,
		blobs:       blobs,
		gate:        gate,
		mailbox:     mailbox,
		interval:    time.Minute,
		concurrency: 4,
	}
	p.retry = resilience.DefaultPolicy()
	p.retry.ShouldRetry = resilience.IsTransient
	p.retry.OnRetry = resilience.RetryLogger("storage", "put")
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the context is cancelled. Individual poll failures are
// logged and the loop continues.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		n, err := p.PollOnce(ctx)
		if err != nil {
			zap.L().Error("mailbox poll failed", zap.String("mailbox", p.mailbox), zap.Error(err))
		} else if n > 0 {
			zap.L().Info("mailbox polled", zap.String("mailbox", p.mailbox), zap.Int("ingested", n))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce fetches new messages since the persisted cursor and ingests them
// concurrently. Returns how many messages were newly created.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	since, err := p.cursor(ctx)
	if err != nil {
		return 0, err
	}

	inbound, err := p.client.ListNewMessages(ctx, since)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: poll %s", p.mailbox)
	}
	if len(inbound) == 0 {
		return 0, nil
	}

	var (
		mu      sync.Mutex
		latest  = since
		created int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, in := range inbound {
		g.Go(func() error {
			wasNew, err := p.ingestOne(gctx, in)
			if err != nil {
				return err
			}
			mu.Lock()
			if wasNew {
				created++
			}
			if in.ReceivedAt.After(latest) {
				latest = in.ReceivedAt
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return created, err
	}

	if latest.After(since) {
		if err := p.store.SetCursor(ctx, p.mailbox, latest.UTC().Format(time.RFC3339)); err != nil {
			return created, eris.Wrapf(err, "ingest: advance cursor %s", p.mailbox)
		}
	}
	return created, nil
}

func (p *Poller) ingestOne(ctx context.Context, in mail.Inbound) (bool, error) {
	prefix := artifactPrefix(in.ExternalID)
	bodyRef := prefix + "/body.txt"
	if err := p.put(ctx, bodyRef, []byte(in.Body)); err != nil {
		return false, err
	}

	var attachmentRefs []string
	for i, a := range in.Attachments {
		ref := fmt.Sprintf("%s/attachments/%02d-%s", prefix, i+1, sanitizeKeyPart(a.Filename, "attachment"))
		if err := p.put(ctx, ref, a.Data); err != nil {
			return false, err
		}
		attachmentRefs = append(attachmentRefs, ref)
	}

	_, created, err := p.gate.Ingest(ctx, in, bodyRef, attachmentRefs)
	return created, err
}

func (p *Poller) put(ctx context.Context, key string, data []byte) error {
	return p.retry.Do(ctx, func(ctx context.Context) error {
		_, err := p.blobs.Put(ctx, key, data)
		return err
	})
}

// cursor reads the persisted high-water mark for this mailbox. A missing or
// unparseable cursor starts from the beginning; the mailbox's own seen flags
// prevent refetching.
func (p *Poller) cursor(ctx context.Context) (time.Time, error) {
	raw, err := p.store.GetCursor(ctx, p.mailbox)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "ingest: cursor %s", p.mailbox)
	}
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		zap.L().Warn("discarding bad cursor", zap.String("mailbox", p.mailbox), zap.String("cursor", raw))
		return time.Time{}, nil
	}
	return t, nil
}

var keyUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// artifactPrefix derives a storage key prefix from an external message id.
func artifactPrefix(externalID string) string {
	s := strings.Trim(keyUnsafe.ReplaceAllString(externalID, "-"), "-.")
	if s == "" {
		s = uuid.New().String()
	}
	return "messages/" + s
}

func sanitizeKeyPart(s, fallback string) string {
	s = strings.Trim(keyUnsafe.ReplaceAllString(s, "-"), "-.")
	if s == "" {
		return fallback
	}
	return s
}
