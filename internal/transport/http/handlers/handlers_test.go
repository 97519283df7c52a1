package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arklim/taskhub-auth/internal/infra/security"
	"github.com/arklim/taskhub-auth/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPublisher struct {
	set *security.JSONWebKeySet
	err error
}

func (s stubPublisher) PublicKeySet() (*security.JSONWebKeySet, error) { return s.set, s.err }

func serve(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/check", handler)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/check", nil))
	return rr
}

func TestJWKSHandlerServesKeySet(t *testing.T) {
	set := &security.JSONWebKeySet{Keys: []security.JSONWebKey{{KeyType: "RSA", KeyID: "k1", Use: "sig", Algorithm: "RS256", Modulus: "AQAB", Exponent: "AQAB"}}}
	rr := serve(NewJWKSHandler(stubPublisher{set: set}).Keys)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != jwksCacheControl {
		t.Fatalf("unexpected cache-control %q", got)
	}
	var body security.JSONWebKeySet
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Keys) != 1 || body.Keys[0].KeyID != "k1" {
		t.Fatalf("unexpected key set %+v", body)
	}
}

func TestJWKSHandlerUnavailableForSymmetricSigning(t *testing.T) {
	rr := serve(NewJWKSHandler(stubPublisher{err: security.ErrNoPublicKeys}).Keys)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	rr = serve(NewJWKSHandler(nil).Keys)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without publisher, got %d", rr.Code)
	}

	rr = serve(NewJWKSHandler(stubPublisher{err: errors.New("boom")}).Keys)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestReadinessReportsFailingCheck(t *testing.T) {
	h := NewHealthHandler(
		WithReadinessCheck("database", func(context.Context) error { return nil }),
		WithReadinessCheck("redis", func(context.Context) error { return errors.New("down") }),
	)

	rr := serve(h.Readiness)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body ReadyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "not_ready" || body.Checks["database"] != "ok" || body.Checks["redis"] != "unavailable" {
		t.Fatalf("unexpected readiness body %+v", body)
	}
}

func TestReadinessWithoutChecksIsReady(t *testing.T) {
	rr := serve(NewHealthHandler().Readiness)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = serve(NewHealthHandler().Status)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from liveness, got %d", rr.Code)
	}
}

func TestRespondWithMappedError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"locked", usecase.ErrAccountLocked, http.StatusTooManyRequests, usecase.ErrAccountLocked.Error()},
		{"bad credentials", usecase.ErrInvalidCredentials, http.StatusUnauthorized, "invalid email or password"},
		{"refresh", fmt.Errorf("rotate: %w", usecase.ErrInvalidRefreshToken), http.StatusBadRequest, "invalid refresh token"},
		{"conflict", usecase.ErrEmailAlreadyRegistered, http.StatusConflict, "email already registered"},
		{"policy echoes detail", fmt.Errorf("%w: too short", usecase.ErrPasswordPolicyViolation), http.StatusBadRequest, usecase.ErrPasswordPolicyViolation.Error() + ": too short"},
		{"fallback", errors.New("db down"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(func(c *gin.Context) {
				RespondWithMappedError(c, tc.err, authErrorCases, http.StatusInternalServerError, "internal")
			})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, body.Error)
			}
		})
	}
}
