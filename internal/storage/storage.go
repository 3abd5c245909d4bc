// Package storage persists raw inbound artifacts (message bodies, attachments)
// outside the relational store and serves them through expiring signed URLs.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrExpired is returned when a presigned URL's deadline has passed.
var ErrExpired = eris.New("storage: url expired")

// ErrBadSignature is returned when a presigned URL fails verification.
var ErrBadSignature = eris.New("storage: bad signature")

// Store writes and reads raw artifacts by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PresignedURL(key string, ttl time.Duration) (string, error)
}

// FS stores artifacts under a root directory. Keys are slash-separated paths;
// path traversal outside the root is rejected.
type FS struct {
	root   string
	secret []byte
	now    func() time.Time
}

// FSOption configures the filesystem store.
type FSOption func(*FS)

// WithClock overrides the time source.
func WithClock(now func() time.Time) FSOption {
	return func(f *FS) { f.now = now }
}

// NewFS creates a filesystem store rooted at root. The secret signs
// presigned URLs; it must not be empty.
func NewFS(root, secret string, opts ...FSOption) (*FS, error) {
	if secret == "" {
		return nil, eris.New("storage: secret key is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrap(err, "storage: create root")
	}
	f := &FS{root: root, secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// path resolves key inside the root, rejecting traversal.
func (f *FS) path(key string) (string, error) {
	if key == "" {
		return "", eris.New("storage: empty key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

// Put writes data under key and returns an unsigned artifact URL. Writes go
// through a temp file and rename so readers never observe partial content.
func (f *FS) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "storage: put")
	}
	p, err := f.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", eris.Wrapf(err, "storage: mkdir for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return "", eris.Wrapf(err, "storage: temp file for %s", key)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "storage: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "storage: close %s", key)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "storage: rename %s", key)
	}
	return "/artifacts/" + key, nil
}

// Get reads the artifact stored under key.
func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "storage: get")
	}
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", key)
	}
	return data, nil
}

// PresignedURL returns an artifact URL carrying an expiry and an HMAC-SHA256
// signature over key and expiry.
func (f *FS) PresignedURL(key string, ttl time.Duration) (string, error) {
	if _, err := f.path(key); err != nil {
		return "", err
	}
	expires := f.now().Add(ttl).Unix()
	sig := f.sign(key, expires)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", sig)
	return "/artifacts/" + key + "?" + q.Encode(), nil
}

// Verify checks a presigned URL's signature and expiry and returns the key.
func (f *FS) Verify(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "storage: parse url")
	}
	key := strings.TrimPrefix(u.Path, "/artifacts/")
	if key == u.Path || key == "" {
		return "", eris.Errorf("storage: not an artifact url: %s", u.Path)
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return "", eris.Wrap(err, "storage: parse expiry")
	}

	want := f.sign(key, expires)
	got := u.Query().Get("sig")
	if !hmac.Equal([]byte(want), []byte(got)) {
		return "", ErrBadSignature
	}
	if f.now().Unix() > expires {
		return "", ErrExpired
	}
	return key, nil
}

func (f *FS) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, f.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
