package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/duoflow/internal/model"
)

func csrfCookieFrom(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethods(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			h := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(method, "/api/tasks/calendar", nil))

			if !called {
				t.Fatalf("%s should pass without a token", method)
			}
			c := csrfCookieFrom(w.Result())
			if c == nil || len(c.Value) != 64 {
				t.Fatalf("%s should issue a 64-char token cookie, got %+v", method, c)
			}
			if c.HttpOnly {
				t.Error("token cookie must be readable by the frontend")
			}
			if c.MaxAge != defaultCSRFMaxAge {
				t.Errorf("MaxAge = %d, want %d", c.MaxAge, defaultCSRFMaxAge)
			}
		})
	}
}

func TestCSRFMiddleware_SafeMethod_KeepsExistingCookie(t *testing.T) {
	h := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if c := csrfCookieFrom(w.Result()); c != nil {
		t.Errorf("existing token should not be replaced, got %+v", c)
	}
}

func TestCSRFMiddleware_MutatingMethods(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		wantOK bool
	}{
		{name: "トークン一致", cookie: "tok", header: "tok", wantOK: true},
		{name: "Cookieなし", header: "tok"},
		{name: "ヘッダーなし", cookie: "tok"},
		{name: "不一致", cookie: "tok", header: "other"},
		{name: "両方なし"},
	}

	methods := []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

	for _, tt := range tests {
		for _, method := range methods {
			t.Run(tt.name+"/"+method, func(t *testing.T) {
				called := false
				h := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					called = true
					w.WriteHeader(http.StatusNoContent)
				}))

				req := httptest.NewRequest(method, "/api/partnership/harmony/reset", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()
				h.ServeHTTP(w, req)

				if called != tt.wantOK {
					t.Fatalf("handler called = %v, want %v", called, tt.wantOK)
				}
				if tt.wantOK {
					return
				}
				if w.Code != http.StatusForbidden {
					t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
				}
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode: %v", err)
				}
				if body.Code != model.ErrCodeCSRFInvalid || body.Category != "auth" {
					t.Errorf("body = %+v", body)
				}
			})
		}
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	t.Run("新規発行", func(t *testing.T) {
		h := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true, CookieDomain: "duoflow.test", MaxAge: 600})

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		c := csrfCookieFrom(w.Result())
		if c == nil || c.Value != body["token"] {
			t.Fatalf("cookie %+v should carry the returned token %q", c, body["token"])
		}
		if !c.Secure || c.Domain != "duoflow.test" || c.MaxAge != 600 {
			t.Errorf("cookie attributes = %+v", c)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
	})

	t.Run("既存トークンを返す", func(t *testing.T) {
		h := NewCSRFTokenHandler(CSRFConfig{})

		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "kept"})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body["token"] != "kept" {
			t.Errorf("token = %q, want kept", body["token"])
		}
		if csrfCookieFrom(w.Result()) != nil {
			t.Error("existing cookie should not be re-issued")
		}
	})
}
