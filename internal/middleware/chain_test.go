package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/duoflow/internal/model"
)

// newProtectedChain はルーターの認証済みグループと同じ順序
// （Session → RateLimit(General) → CSRF）でミドルウェアを組み立てる。
// invitationがtrueなら招待送信用のレート制限も追加する。
func newProtectedChain(t *testing.T, rl *RateLimiter, invitation bool, final http.Handler) http.Handler {
	t.Helper()

	sessions := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			switch id {
			case "alice-session":
				return &model.Session{ID: id, UserID: "alice", ExpiresAt: time.Now().Add(time.Hour)}, nil
			case "bob-session":
				return &model.Session{ID: id, UserID: "bob", ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			return nil, nil
		},
	}

	h := final
	if invitation {
		h = rl.InvitationMiddleware()(h)
	}
	h = NewCSRFMiddleware(CSRFConfig{})(h)
	h = rl.GeneralMiddleware()(h)
	return NewSessionMiddleware(sessions)(h)
}

func withSession(req *http.Request, sessionID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	return req
}

func withCSRF(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
	req.Header.Set(csrfHeaderName, token)
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code
}

func TestProtectedChain_StreamGET_IssuesCSRFCookieAndPassesUser(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	var gotUser string
	h := newProtectedChain(t, rl, false, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api/stream", nil), "alice-session"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != "alice" {
		t.Errorf("user = %q, want alice", gotUser)
	}
	issued := false
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName && c.Value != "" {
			issued = true
		}
	}
	if !issued {
		t.Error("GET through the chain should issue a CSRF cookie")
	}
}

func TestProtectedChain_RejectionOrder(t *testing.T) {
	tests := []struct {
		name     string
		req      func() *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name: "セッションなしのPOSTはCSRFより先に401",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/tasks", nil)
			},
			wantCode: http.StatusUnauthorized,
			wantErr:  model.ErrCodeUnauthorized,
		},
		{
			name: "期限切れ・不明なセッションは401",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodPut, "/api/tasks/t1/status", nil), "ghost")
			},
			wantCode: http.StatusUnauthorized,
			wantErr:  model.ErrCodeUnauthorized,
		},
		{
			name: "セッションありでCSRFトークンなしは403",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodPost, "/api/partnership/harmony/reset", nil), "alice-session")
			},
			wantCode: http.StatusForbidden,
			wantErr:  model.ErrCodeCSRFInvalid,
		},
		{
			name: "セッションとCSRFトークンが揃えば通過",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodDelete, "/api/tasks/t1", nil)
				return withCSRF(withSession(req, "alice-session"), "tok")
			},
			wantCode: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(DefaultRateLimiterConfig())
			defer rl.Stop()

			h := newProtectedChain(t, rl, false, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, tt.req())

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantErr != "" {
				if got := errorCode(t, w); got != tt.wantErr {
					t.Errorf("error code = %q, want %q", got, tt.wantErr)
				}
			}
		})
	}
}

func TestProtectedChain_InvitationLimitIsPerUser(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Inf,
		GeneralBurst:    1,
		InvitationRate:  rate.Limit(0.001),
		InvitationBurst: 1,
	})
	defer rl.Stop()

	h := newProtectedChain(t, rl, true, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(session string) *httptest.ResponseRecorder {
		req := withCSRF(withSession(httptest.NewRequest(http.MethodPost, "/api/invitations", nil), session), "tok")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	if w := send("alice-session"); w.Code != http.StatusCreated {
		t.Fatalf("first invitation status = %d, want %d", w.Code, http.StatusCreated)
	}
	w := send("alice-session")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second invitation status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	if got := errorCode(t, w); got != model.ErrCodeRateLimited {
		t.Errorf("error code = %q, want %q", got, model.ErrCodeRateLimited)
	}

	// 別ユーザーの枠は独立している
	if w := send("bob-session"); w.Code != http.StatusCreated {
		t.Errorf("other user's invitation status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := rl.InvitationLimiterCount(); got != 2 {
		t.Errorf("InvitationLimiterCount = %d, want 2", got)
	}
}

func TestProtectedChain_CSRFFailureDoesNotConsumeInvitationQuota(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Inf,
		GeneralBurst:    1,
		InvitationRate:  rate.Limit(0.001),
		InvitationBurst: 1,
	})
	defer rl.Stop()

	h := newProtectedChain(t, rl, true, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodPost, "/api/invitations", nil), "alice-session"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status without CSRF = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, withCSRF(withSession(httptest.NewRequest(http.MethodPost, "/api/invitations", nil), "alice-session"), "tok"))
	if w.Code != http.StatusCreated {
		t.Errorf("status with CSRF = %d, want %d", w.Code, http.StatusCreated)
	}
}
