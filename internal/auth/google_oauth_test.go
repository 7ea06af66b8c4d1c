package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hitoshi/duoflow/internal/model"
)

// fakeGoogle はトークンとユーザー情報のエンドポイントを1つのサーバーで提供する。
type fakeGoogle struct {
	tokenStatus   int
	tokenBody     map[string]any
	profileStatus int
	profileBody   map[string]any

	gotForm url.Values
	gotAuth string
}

func (f *fakeGoogle) start(t *testing.T) *GoogleOAuthProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		f.gotForm = r.PostForm
		writeFake(w, f.tokenStatus, f.tokenBody)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.gotAuth = r.Header.Get("Authorization")
		writeFake(w, f.profileStatus, f.profileBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
	})
}

func writeFake(w http.ResponseWriter, status int, body map[string]any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func verifiedProfile() map[string]any {
	return map[string]any{
		"sub":            "google-sub-alice",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
		"picture":        "https://lh3.googleusercontent.com/a/alice",
	}
}

func TestGoogleOAuthProvider_GetLoginURL(t *testing.T) {
	p := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "client-1",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	u, err := url.Parse(p.GetLoginURL("state-xyz"))
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	if u.Scheme+"://"+u.Host+u.Path != defaultGoogleAuthURL {
		t.Errorf("endpoint = %s, want %s", u.Host+u.Path, defaultGoogleAuthURL)
	}

	want := map[string]string{
		"client_id":     "client-1",
		"redirect_uri":  "http://localhost:8080/auth/google/callback",
		"response_type": "code",
		"scope":         "openid email profile",
		"state":         "state-xyz",
		"prompt":        "select_account",
	}
	q := u.Query()
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	f := &fakeGoogle{
		tokenBody:   map[string]any{"access_token": "at-1", "token_type": "Bearer", "expires_in": 3600},
		profileBody: verifiedProfile(),
	}
	p := f.start(t)

	info, err := p.ExchangeCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if f.gotForm.Get("code") != "code-1" || f.gotForm.Get("grant_type") != "authorization_code" ||
		f.gotForm.Get("client_secret") != "secret-1" {
		t.Errorf("token form = %v", f.gotForm)
	}
	if f.gotAuth != "Bearer at-1" {
		t.Errorf("Authorization = %q, want Bearer at-1", f.gotAuth)
	}

	want := OAuthUserInfo{
		ProviderUserID: "google-sub-alice",
		Email:          "alice@example.com",
		Name:           "Alice",
		PictureURL:     "https://lh3.googleusercontent.com/a/alice",
		Provider:       "google",
	}
	if *info != want {
		t.Errorf("info = %+v, want %+v", *info, want)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Failures(t *testing.T) {
	unverified := verifiedProfile()
	unverified["email_verified"] = false
	noSub := verifiedProfile()
	delete(noSub, "sub")

	tests := []struct {
		name           string
		f              *fakeGoogle
		wantValidation bool
	}{
		{
			name: "コード使用済み",
			f: &fakeGoogle{
				tokenStatus: http.StatusBadRequest,
				tokenBody:   map[string]any{"error": "invalid_grant"},
			},
		},
		{
			name: "アクセストークンなし",
			f:    &fakeGoogle{tokenBody: map[string]any{"token_type": "Bearer"}},
		},
		{
			name: "ユーザー情報が401",
			f: &fakeGoogle{
				tokenBody:     map[string]any{"access_token": "at-1"},
				profileStatus: http.StatusUnauthorized,
				profileBody:   map[string]any{"error": "invalid_token"},
			},
		},
		{
			name: "subなし",
			f:    &fakeGoogle{tokenBody: map[string]any{"access_token": "at-1"}, profileBody: noSub},
		},
		{
			name:           "未確認のメールアドレス",
			f:              &fakeGoogle{tokenBody: map[string]any{"access_token": "at-1"}, profileBody: unverified},
			wantValidation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := tt.f.start(t).ExchangeCode(context.Background(), "code-1")
			if err == nil {
				t.Fatalf("expected error, got %+v", info)
			}
			var apiErr *model.APIError
			isValidation := errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeValidation
			if isValidation != tt.wantValidation {
				t.Errorf("validation error = %v, want %v (err=%v)", isValidation, tt.wantValidation, err)
			}
		})
	}
}
