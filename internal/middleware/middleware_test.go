package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/ratelimit"
	"tasklist-api/internal/respond"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) respond.ErrorBody {
	t.Helper()
	var body respond.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Window: time.Minute, Max: 2})
	defer limiter.Close()

	h := Identity("")(RateLimit(limiter)(okHandler()))

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
		req.Header.Set(UserIDHeader, "u2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("request %d: missing X-RateLimit-Limit", i+1)
		}
		if want == http.StatusTooManyRequests {
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("expected Retry-After on 429")
			}
			body := decodeError(t, rec)
			if body.Success || body.Message != "rate limited" {
				t.Fatalf("unexpected body %+v", body)
			}
		}
	}

	// a different identity has its own window
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set(UserIDHeader, "u3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for another identity, got %d", rec.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Admit(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(failingLimiter{})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected request to pass when limiter fails, got %d", rec.Code)
	}
}

type recordingLimiter struct{ identities []string }

func (l *recordingLimiter) Admit(_ context.Context, identity string) (ratelimit.Decision, error) {
	l.identities = append(l.identities, identity)
	return ratelimit.Decision{Allowed: true, Count: 1, Limit: 75}, nil
}

func TestIdentity_FallsBackToClientAddress(t *testing.T) {
	l := &recordingLimiter{}
	h := Identity("")(RateLimit(l)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "u1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	want := []string{"ip:203.0.113.7", "user:u1"}
	if strings.Join(l.identities, ",") != strings.Join(want, ",") {
		t.Fatalf("expected identities %v, got %v", want, l.identities)
	}
}

func signed(t *testing.T, secret string, claims jwt.Claims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestIdentity_JWT(t *testing.T) {
	const secret = "test-secret"

	var gotUser string
	h := Identity(secret)(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = domain.UserFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	valid := signed(t, secret, jwt.RegisteredClaims{
		Subject:   "u42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)
	expired := signed(t, secret, jwt.RegisteredClaims{
		Subject:   "u42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}, jwt.SigningMethodHS256)
	wrongKey := signed(t, "other", jwt.RegisteredClaims{Subject: "u42"}, jwt.SigningMethodHS256)

	tests := []struct {
		name     string
		auth     string
		userHdr  string
		wantCode int
		wantUser string
	}{
		{"valid token", "Bearer " + valid, "", http.StatusOK, "u42"},
		{"expired token", "Bearer " + expired, "", http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + wrongKey, "", http.StatusUnauthorized, ""},
		{"header ignored when secret set", "", "u1", http.StatusUnauthorized, ""},
		{"no credentials", "", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.userHdr != "" {
				req.Header.Set(UserIDHeader, tt.userHdr)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if gotUser != tt.wantUser {
				t.Fatalf("expected user %q, got %q", tt.wantUser, gotUser)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	h := Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Message != "internal server error" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestTimeout(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestTimeout_FastHandlerKeepsHeaders(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusCreated || rec.Header().Get("X-Test") != "1" || rec.Body.String() != "done" {
		t.Fatalf("unexpected response: %d %v %q", rec.Code, rec.Header(), rec.Body.String())
	}
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	var tooLarge *http.MaxBytesError
	if !errors.As(readErr, &tooLarge) {
		t.Fatalf("expected MaxBytesError, got %v", readErr)
	}
}
