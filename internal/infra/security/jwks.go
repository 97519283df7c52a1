package security

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultJWKSCacheTTL      = time.Hour
	defaultJWKSRefreshMargin = 5 * time.Minute
	defaultJWKSFetchTimeout  = 5 * time.Second
	jwksStaleRetryInterval   = 10 * time.Second
	maxJWKSBodyBytes         = 1 << 20
)

// JWKS refresh outcomes reported to a JWKSObserver.
const (
	JWKSRefreshSuccess = "success"
	JWKSRefreshError   = "error"
	JWKSRefreshStale   = "stale"
)

// KeySetFetcher retrieves a JSON Web Key Set.
type KeySetFetcher interface {
	FetchKeySet(ctx context.Context) (*KeySet, error)
}

// JWKSObserver receives refresh outcomes, typically to feed metrics.
type JWKSObserver interface {
	ObserveJWKSRefresh(outcome string)
}

// HTTPKeySetFetcher downloads a key set over HTTP with a bounded timeout.
type HTTPKeySetFetcher struct {
	uri     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPKeySetFetcher constructs a fetcher. A nil client gets one bounded by timeout.
func NewHTTPKeySetFetcher(uri string, timeout time.Duration, client *http.Client) (*HTTPKeySetFetcher, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: jwks uri is required", ErrInvalidKeyMaterial)
	}
	if timeout <= 0 {
		timeout = defaultJWKSFetchTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPKeySetFetcher{uri: uri, client: client, timeout: timeout}, nil
}

// FetchKeySet performs the download. The deadline is independent of the caller's cancellation.
func (f *HTTPKeySetFetcher) FetchKeySet(ctx context.Context) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}
	return ParseKeySet(body)
}

// JWKSCacheOptions tunes the key set cache.
type JWKSCacheOptions struct {
	TTL           time.Duration
	RefreshMargin time.Duration
}

type cachedKeySet struct {
	keys      *KeySet
	expiresAt time.Time
}

// JWKSCache holds the most recent key set and refreshes it at most once at a time.
// Readers never block on a fresh entry; a failed refresh keeps serving the stale one.
type JWKSCache struct {
	fetcher    KeySetFetcher
	ttl        time.Duration
	margin     time.Duration
	entry      atomic.Pointer[cachedKeySet]
	mu         sync.Mutex
	attempts   atomic.Uint64
	lastErr    error     // guarded by mu
	failedAt   time.Time // guarded by mu
	refreshing atomic.Bool
	now        func() time.Time
	logger     *zap.Logger
	observer   JWKSObserver
}

// NewJWKSCache constructs a cache around the fetcher.
func NewJWKSCache(fetcher KeySetFetcher, opts JWKSCacheOptions, logger *zap.Logger) *JWKSCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultJWKSCacheTTL
	}
	if opts.RefreshMargin < 0 || opts.RefreshMargin >= opts.TTL {
		opts.RefreshMargin = min(defaultJWKSRefreshMargin, opts.TTL/2)
	}
	return &JWKSCache{
		fetcher: fetcher,
		ttl:     opts.TTL,
		margin:  opts.RefreshMargin,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock overrides the cache clock for deterministic tests.
func (c *JWKSCache) WithClock(clock func() time.Time) *JWKSCache {
	if clock != nil {
		c.now = clock
	}
	return c
}

// WithObserver attaches a refresh observer.
func (c *JWKSCache) WithObserver(observer JWKSObserver) *JWKSCache {
	c.observer = observer
	return c
}

// Key resolves kid against the cached set. A miss forces one refresh before failing with ErrKeyNotFound.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := c.now()
	attempt := c.attempts.Load()
	current := c.entry.Load()
	if current != nil && now.Before(current.expiresAt) {
		if current.expiresAt.Sub(now) <= c.margin {
			c.refreshAhead(ctx)
		}
		if key, ok := current.keys.Lookup(kid); ok {
			return key, nil
		}
	}

	refreshed, err := c.refresh(ctx, current, attempt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyResolution, err)
	}
	if key, ok := refreshed.keys.Lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
}

// Refresh fetches the key set unconditionally. On failure any cached entry is kept.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.fetchLocked(ctx)
	return err
}

// refresh returns a usable entry. seen and attempt are what the caller observed before
// waiting for the lock. A fetch that completed in the meantime is shared rather than repeated,
// and an expired set is served as is while a recent failure is inside the retry interval.
func (c *JWKSCache) refresh(ctx context.Context, seen *cachedKeySet, attempt uint64) (*cachedKeySet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	current := c.entry.Load()
	if current != nil && current != seen && now.Before(current.expiresAt) {
		return current, nil
	}
	if c.attempts.Load() != attempt {
		if current != nil {
			return current, nil
		}
		return nil, c.lastErr
	}
	if current != nil && !now.Before(current.expiresAt) && !c.failedAt.IsZero() &&
		now.Sub(c.failedAt) < jwksStaleRetryInterval {
		return current, nil
	}

	next, err := c.fetchLocked(ctx)
	if err == nil {
		return next, nil
	}
	if current != nil {
		c.report(JWKSRefreshStale)
		c.logger.Warn("jwks refresh failed, serving stale key set",
			zap.Error(err),
			zap.Time("expired_at", current.expiresAt),
		)
		return current, nil
	}
	return nil, err
}

func (c *JWKSCache) fetchLocked(ctx context.Context) (*cachedKeySet, error) {
	defer c.attempts.Add(1)

	keys, err := c.fetcher.FetchKeySet(ctx)
	if err != nil {
		c.lastErr, c.failedAt = err, c.now()
		c.report(JWKSRefreshError)
		return nil, err
	}

	next := &cachedKeySet{keys: keys, expiresAt: c.now().Add(c.ttl)}
	c.lastErr, c.failedAt = nil, time.Time{}
	c.entry.Store(next)
	c.report(JWKSRefreshSuccess)
	c.logger.Debug("jwks refreshed", zap.Int("keys", keys.Len()))
	return next, nil
}

func (c *JWKSCache) refreshAhead(ctx context.Context) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		if err := c.Refresh(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("background jwks refresh failed", zap.Error(err))
		}
	}()
}

func (c *JWKSCache) report(outcome string) {
	if c.observer != nil {
		c.observer.ObserveJWKSRefresh(outcome)
	}
}

// StaticKeySet resolves keys from a fixed set.
type StaticKeySet struct {
	keys *KeySet
}

// NewStaticKeySet wraps a fixed key set.
func NewStaticKeySet(keys *KeySet) *StaticKeySet {
	return &StaticKeySet{keys: keys}
}

// Key returns the key for kid or ErrKeyNotFound.
func (s *StaticKeySet) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s.keys.Lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
}

var (
	_ KeyResolver   = (*JWKSCache)(nil)
	_ KeyResolver   = (*StaticKeySet)(nil)
	_ KeySetFetcher = (*HTTPKeySetFetcher)(nil)
)
