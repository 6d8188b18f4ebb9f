package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ledgerline/recordtrail/internal/attribution"
)

const testSecret = "test-secret-which-is-long-enough"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestActorFromTokenSubject(t *testing.T) {
	e := NewActorExtractor(testSecret)
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	})

	actor, err := e.ActorFromToken(token)
	if err != nil {
		t.Fatalf("actor from token: %v", err)
	}
	if actor.Kind != attribution.KindRef || actor.Type != "user" || actor.ID != "u-1" {
		t.Errorf("actor = %+v", actor)
	}
}

func TestActorFromTokenCustomType(t *testing.T) {
	e := NewActorExtractor(testSecret)
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "svc-1"},
		ActorType:        "service",
	})

	actor, err := e.ActorFromToken(token)
	if err != nil {
		t.Fatalf("actor from token: %v", err)
	}
	if actor.Type != "service" {
		t.Errorf("actor type = %q", actor.Type)
	}
}

func TestActorFromTokenNameOnly(t *testing.T) {
	e := NewActorExtractor(testSecret)
	token := signToken(t, Claims{Name: "migration script"})

	actor, err := e.ActorFromToken(token)
	if err != nil {
		t.Fatalf("actor from token: %v", err)
	}
	if actor.Kind != attribution.KindName || actor.Display != "migration script" {
		t.Errorf("actor = %+v", actor)
	}
}

func TestActorFromTokenRejectsBadSignature(t *testing.T) {
	e := NewActorExtractor("different-secret")
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	})

	if _, err := e.ActorFromToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestActorFromTokenRejectsExpired(t *testing.T) {
	e := NewActorExtractor(testSecret)
	token := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := e.ActorFromToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestActorFromTokenRejectsEmptyClaims(t *testing.T) {
	e := NewActorExtractor(testSecret)
	token := signToken(t, Claims{})

	if _, err := e.ActorFromToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestActorMiddlewareInstallsOverride(t *testing.T) {
	e := NewActorExtractor(testSecret)
	var captured attribution.Actor
	handler := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = attribution.Current(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if captured.ID != "u-1" {
		t.Errorf("captured actor = %+v", captured)
	}
}

func TestActorMiddlewarePassesThroughWithoutHeader(t *testing.T) {
	e := NewActorExtractor(testSecret)
	handler := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := attribution.Current(r.Context()); ok {
			t.Error("no override expected without a token")
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestActorMiddlewareRejectsMalformedHeader(t *testing.T) {
	e := NewActorExtractor(testSecret)
	handler := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestActorMiddlewareRejectsInvalidToken(t *testing.T) {
	e := NewActorExtractor(testSecret)
	handler := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}
