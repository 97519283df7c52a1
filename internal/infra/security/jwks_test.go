package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	uuid "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateRSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func encodeKeySet(t *testing.T, keys map[string]*rsa.PrivateKey, order ...string) []byte {
	t.Helper()
	doc := JSONWebKeySet{}
	for _, kid := range order {
		doc.Keys = append(doc.Keys, NewJSONWebKey(kid, &keys[kid].PublicKey))
	}
	payload, err := json.Marshal(doc)
	require.NoError(t, err)
	return payload
}

type jwksServer struct {
	*httptest.Server
	body atomic.Value
	hits atomic.Int32
}

func newJWKSServer(t *testing.T, body []byte) *jwksServer {
	t.Helper()
	srv := &jwksServer{}
	srv.body.Store(body)
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		srv.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(srv.body.Load().([]byte))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	set   *KeySet
	err   error
	delay time.Duration
}

func (f *stubFetcher) FetchKeySet(context.Context) (*KeySet, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

func (f *stubFetcher) setResult(set *KeySet, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set, f.err = set, err
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveJWKSRefresh(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func keySetOf(kid string, key *rsa.PrivateKey) *KeySet {
	set := NewKeySet()
	set.Add(kid, &key.PublicKey)
	return set
}

func TestRSACodecRoundTripThroughJWKS(t *testing.T) {
	key, keyPEM := generateRSAKey(t)
	srv := newJWKSServer(t, encodeKeySet(t, map[string]*rsa.PrivateKey{"k1": key}, "k1"))

	fetcher, err := NewHTTPKeySetFetcher(srv.URL, time.Second, nil)
	require.NoError(t, err)
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{TTL: time.Hour, RefreshMargin: 5 * time.Minute}, nil)

	codec, err := NewTokenCodec(testCodecOptions(), KeyMaterial{
		Strategy:         StrategyRS256,
		RSAPrivateKeyPEM: keyPEM,
		RSAKeyID:         "k1",
	}, cache)
	require.NoError(t, err)
	assert.Equal(t, "RS256", codec.Algorithm())

	userID := uuid.NewString()
	token, err := codec.GenerateToken(userID, "rsa@example.com")
	require.NoError(t, err)

	claims, err := codec.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)

	_, err = codec.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.hits.Load())

	published, err := codec.PublicKeySet()
	require.NoError(t, err)
	require.Len(t, published.Keys, 1)
	assert.Equal(t, "k1", published.Keys[0].KeyID)
	pub, err := published.Keys[0].PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))
}

func TestJWKSCacheRefreshesOnUnknownKid(t *testing.T) {
	oldKey, _ := generateRSAKey(t)
	newKey, newPEM := generateRSAKey(t)
	keys := map[string]*rsa.PrivateKey{"old": oldKey, "new": newKey}

	srv := newJWKSServer(t, encodeKeySet(t, keys, "old"))
	fetcher, err := NewHTTPKeySetFetcher(srv.URL, time.Second, nil)
	require.NoError(t, err)
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{TTL: time.Hour}, nil)
	require.NoError(t, cache.Refresh(context.Background()))

	codec, err := NewRSACodec(testCodecOptions(), RSAOptions{PrivateKeyPEM: newPEM, KeyID: "new", Keys: cache})
	require.NoError(t, err)
	token, err := codec.GenerateToken(uuid.NewString(), "rotate@example.com")
	require.NoError(t, err)

	srv.body.Store(encodeKeySet(t, keys, "old", "new"))

	_, err = codec.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestJWKSCacheUnknownKidAfterRefresh(t *testing.T) {
	key, _ := generateRSAKey(t)
	_, otherPEM := generateRSAKey(t)
	fetcher := &stubFetcher{set: keySetOf("k1", key)}
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{TTL: time.Hour}, nil)

	_, err := cache.Key(context.Background(), "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	codec, err := NewRSACodec(testCodecOptions(), RSAOptions{PrivateKeyPEM: otherPEM, KeyID: "rogue", Keys: cache})
	require.NoError(t, err)
	token, err := codec.GenerateToken(uuid.NewString(), "x@example.com")
	require.NoError(t, err)

	_, err = codec.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, TokenUnknownKey, TokenErrorKindOf(err))
}

func TestJWKSCacheServesStaleOnFetchError(t *testing.T) {
	key, _ := generateRSAKey(t)
	now := testEpoch
	fetcher := &stubFetcher{set: keySetOf("k1", key)}
	observer := &recordingObserver{}
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{TTL: time.Hour, RefreshMargin: time.Minute}, nil).
		WithClock(func() time.Time { return now }).
		WithObserver(observer)

	got, err := cache.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, got.Equal(&key.PublicKey))

	fetcher.setResult(nil, errors.New("jwks endpoint down"))
	now = testEpoch.Add(2 * time.Hour)

	got, err = cache.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, got.Equal(&key.PublicKey))
	assert.Equal(t, []string{JWKSRefreshSuccess, JWKSRefreshError, JWKSRefreshStale}, observer.snapshot())
}

func TestJWKSCacheFailsWithoutCachedSet(t *testing.T) {
	_, keyPEM := generateRSAKey(t)
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{}, nil)

	_, err := cache.Key(context.Background(), "k1")
	require.ErrorIs(t, err, ErrKeyResolution)

	codec, err := NewRSACodec(testCodecOptions(), RSAOptions{PrivateKeyPEM: keyPEM, KeyID: "k1", Keys: cache})
	require.NoError(t, err)
	token, err := codec.GenerateToken(uuid.NewString(), "x@example.com")
	require.NoError(t, err)

	_, err = codec.Verify(context.Background(), token)
	assert.Equal(t, TokenKeyUnavailable, TokenErrorKindOf(err))
}

func TestJWKSCacheKidlessLookupUsesFirstKey(t *testing.T) {
	first, _ := generateRSAKey(t)
	second, _ := generateRSAKey(t)
	set := NewKeySet()
	set.Add("a", &first.PublicKey)
	set.Add("b", &second.PublicKey)
	cache := NewJWKSCache(&stubFetcher{set: set}, JWKSCacheOptions{}, nil)

	got, err := cache.Key(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, got.Equal(&first.PublicKey))
}

func TestJWKSCacheSingleFlightRefresh(t *testing.T) {
	key, _ := generateRSAKey(t)
	fetcher := &stubFetcher{set: keySetOf("k1", key), delay: 50 * time.Millisecond}
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{TTL: time.Hour}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Key(context.Background(), "k1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fetcher.callCount())
}

func TestJWKSCacheRefreshesAheadOfExpiry(t *testing.T) {
	key, _ := generateRSAKey(t)
	var now atomic.Value
	now.Store(testEpoch)
	fetcher := &stubFetcher{set: keySetOf("k1", key)}
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{TTL: time.Hour, RefreshMargin: 5 * time.Minute}, nil).
		WithClock(func() time.Time { return now.Load().(time.Time) })

	_, err := cache.Key(context.Background(), "k1")
	require.NoError(t, err)

	now.Store(testEpoch.Add(57 * time.Minute))
	_, err = cache.Key(context.Background(), "k1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHTTPKeySetFetcherRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher, err := NewHTTPKeySetFetcher(srv.URL, time.Second, nil)
	require.NoError(t, err)
	_, err = fetcher.FetchKeySet(context.Background())
	require.Error(t, err)

	_, err = NewHTTPKeySetFetcher(" ", time.Second, nil)
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestParseKeySetSkipsUnusableKeys(t *testing.T) {
	key, _ := generateRSAKey(t)
	good := NewJSONWebKey("good", &key.PublicKey)
	encryption := NewJSONWebKey("enc", &key.PublicKey)
	encryption.Use = "enc"
	payload, err := json.Marshal(map[string]any{
		"keys": []any{
			map[string]string{"kty": "EC", "kid": "ec", "crv": "P-256"},
			encryption,
			map[string]string{"kty": "RSA", "kid": "broken", "n": "!!", "e": "AQAB"},
			good,
		},
	})
	require.NoError(t, err)

	set, err := ParseKeySet(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	_, ok := set.Lookup("good")
	assert.True(t, ok)
	_, ok = set.Lookup("enc")
	assert.False(t, ok)

	_, err = ParseKeySet([]byte("{not json"))
	require.Error(t, err)
}

func TestLoadRSAPrivateKeyFormats(t *testing.T) {
	key, pkcs8 := generateRSAKey(t)

	parsed, err := LoadRSAPrivateKey(pkcs8)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(key))

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	parsed, err = ParseRSAPrivateKey(pkcs1)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(key))

	_, err = LoadRSAPrivateKey("")
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)
	_, err = LoadRSAPrivateKey("/nonexistent/signing.pem")
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)
}

func TestJWKSCacheStaleFallbackIsSingleFlight(t *testing.T) {
	key, _ := generateRSAKey(t)
	var now atomic.Value
	now.Store(testEpoch)
	fetcher := &stubFetcher{set: keySetOf("k1", key)}
	cache := NewJWKSCache(fetcher, JWKSCacheOptions{TTL: time.Hour}, nil).
		WithClock(func() time.Time { return now.Load().(time.Time) })

	_, err := cache.Key(context.Background(), "k1")
	require.NoError(t, err)

	fetcher.setResult(nil, errors.New("jwks endpoint down"))
	fetcher.delay = 100 * time.Millisecond
	now.Store(testEpoch.Add(2 * time.Hour))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Key(context.Background(), "k1")
			if err == nil && !got.Equal(&key.PublicKey) {
				err = errors.New("unexpected key")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 2, fetcher.callCount())

	now.Store(testEpoch.Add(2*time.Hour + jwksStaleRetryInterval))
	_, err = cache.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestHTTPKeySetFetcherTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	fetcher, err := NewHTTPKeySetFetcher(srv.URL, 100*time.Millisecond, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = fetcher.FetchKeySet(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPKeySetFetcherIgnoresCallerCancellation(t *testing.T) {
	key, _ := generateRSAKey(t)
	body := encodeKeySet(t, map[string]*rsa.PrivateKey{"k1": key}, "k1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	fetcher, err := NewHTTPKeySetFetcher(srv.URL, time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	set, err := fetcher.FetchKeySet(ctx)
	require.NoError(t, err)
	_, ok := set.Lookup("k1")
	assert.True(t, ok)
}
