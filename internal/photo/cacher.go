// Package photo はIdPのプロフィール画像を取得し、data URLとしてキャッシュする。
package photo

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxPhotoSize はプロフィール画像の最大サイズ（1MB）。
const maxPhotoSize = 1 * 1024 * 1024

// photoTimeout はプロフィール画像取得のタイムアウト。
const photoTimeout = 5 * time.Second

// SSRFValidator はSSRF対策のためのURL検証とHTTPクライアント生成を行う。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// CacherService はプロフィール画像キャッシュのインターフェース。
type CacherService interface {
	// Cache は画像を取得してdata URLを返す。
	// 取得に失敗した場合は空文字列を返す（エラーは返さない）。
	Cache(ctx context.Context, photoURL string) string
}

// Cacher はCacherServiceの実装。
type Cacher struct {
	ssrfGuard SSRFValidator
	logger    *slog.Logger
}

// NewCacher はCacherの新しいインスタンスを生成する。
func NewCacher(ssrfGuard SSRFValidator, logger *slog.Logger) *Cacher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cacher{ssrfGuard: ssrfGuard, logger: logger}
}

// Cache は画像を取得してdata URLを返す。
// ログインを妨げないよう、失敗はすべて警告ログに留めて空文字列を返す。
func (c *Cacher) Cache(ctx context.Context, photoURL string) string {
	if photoURL == "" {
		return ""
	}

	if err := c.ssrfGuard.ValidateURL(photoURL); err != nil {
		c.logger.Warn("photo cache: blocked url", slog.String("url", photoURL), slog.String("error", err.Error()))
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		c.logger.Warn("photo cache: invalid request", slog.String("url", photoURL), slog.String("error", err.Error()))
		return ""
	}
	req.Header.Set("User-Agent", "DuoFlow/1.0")

	resp, err := c.ssrfGuard.NewSafeClient(photoTimeout).Do(req)
	if err != nil {
		c.logger.Warn("photo cache: request failed", slog.String("url", photoURL), slog.String("error", err.Error()))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("photo cache: unexpected status", slog.String("url", photoURL), slog.Int("status", resp.StatusCode))
		return ""
	}

	mimeType := extractMimeType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		c.logger.Warn("photo cache: not an image", slog.String("url", photoURL), slog.String("content_type", mimeType))
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		c.logger.Warn("photo cache: read failed", slog.String("url", photoURL), slog.String("error", err.Error()))
		return ""
	}
	if len(body) > maxPhotoSize {
		c.logger.Warn("photo cache: too large", slog.String("url", photoURL), slog.Int("size", len(body)))
		return ""
	}
	if len(body) == 0 {
		return ""
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(body)
}

// extractMimeType はContent-Typeヘッダーからメディアタイプを抽出する。
func extractMimeType(contentType string) string {
	parts := strings.SplitN(contentType, ";", 2)
	return strings.TrimSpace(strings.ToLower(parts[0]))
}

// compile-time interface check
var _ CacherService = (*Cacher)(nil)
