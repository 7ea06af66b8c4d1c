// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/duoflow/internal/middleware"
	"github.com/hitoshi/duoflow/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600

	// loginResultParam はOAuthフロー終了後のリダイレクト先に付与するクエリ名。
	loginResultParam = "login"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // 秒
}

// AuthHandler はサインイン・サインアウトを扱う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

// Login はstateをCookieに保存してGoogleの同意画面へリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.cookie(oauthStateCookie, state, oauthStateMaxAge, false))
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はGoogleからの戻りを受けてセッションを発行する。
// ユーザーが同意を拒否した場合はエラーにせず ?login=denied 付きでフロントエンドへ戻す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if !h.validState(r, q.Get("state")) {
		slog.Warn("oauth state mismatch", slog.String("query_state", q.Get("state")))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateが一致しません"))
		return
	}
	http.SetCookie(w, h.cookie(oauthStateCookie, "", -1, false))

	if reason := q.Get("error"); reason != "" {
		slog.Info("oauth consent not granted", slog.String("reason", reason))
		http.Redirect(w, r, h.frontendURL("denied"), http.StatusTemporaryRedirect)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			handleServiceError(w, err)
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.cookie(middleware.SessionCookieName, session.ID, h.config.SessionMaxAge, true))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄し、Cookieを消してフロントエンドへ戻す。
// サーバー側の削除に失敗してもCookieは必ず消す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := sessionIDFromCookie(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	clearSessionCookie(w, h.config)
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Me はセッションCookieのユーザーを返す。未ログインは401。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromCookie(r)
	if sessionID == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), sessionID)
	if err != nil {
		slog.Warn("failed to get current user", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) validState(r *http.Request, state string) bool {
	c, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) == 1
}

// frontendURL はBaseURLにログイン結果のクエリを付けたURLを返す。
func (h *AuthHandler) frontendURL(result string) string {
	u, err := url.Parse(h.config.BaseURL)
	if err != nil {
		return h.config.BaseURL
	}
	q := u.Query()
	q.Set(loginResultParam, result)
	u.RawQuery = q.Encode()
	return u.String()
}

// cookie はHttpOnly・SameSite=LaxのCookieを組み立てる。
// scopedがtrueならCOOKIE_DOMAINを適用する（セッションCookie用）。
func (h *AuthHandler) cookie(name, value string, maxAge int, scoped bool) *http.Cookie {
	return newAuthCookie(h.config, name, value, maxAge, scoped)
}

func newAuthCookie(config AuthHandlerConfig, name, value string, maxAge int, scoped bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if scoped {
		c.Domain = config.CookieDomain
	}
	return c
}

// clearSessionCookie はセッションCookieを削除する。退会時にも使う。
func clearSessionCookie(w http.ResponseWriter, config AuthHandlerConfig) {
	http.SetCookie(w, newAuthCookie(config, middleware.SessionCookieName, "", -1, true))
}

func sessionIDFromCookie(r *http.Request) string {
	c, err := r.Cookie(middleware.SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// generateState はOAuthのstate値（128bitの乱数）を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
