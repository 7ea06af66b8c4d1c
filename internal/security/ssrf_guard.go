// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService は外部への送信リクエストを安全に行うためのインターフェース。
// Web Pushのエンドポイントとプロフィール画像の取得で使用する。
type SSRFGuardService interface {
	// NewSafeClient はプライベートIP等への接続をダイアル時に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はURLを送信先として受け付けてよいかを静的に検証する。
	ValidateURL(rawURL string) error
}

// プッシュサービスもIdPの画像配信もHTTPSの443番で提供される。
const (
	outboundScheme = "https"
	outboundPort   = "443"
)

// netipのIsPrivate等で拾えない範囲。
var extraBlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
}

var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

type ssrfGuard struct{}

func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はDNS解決後のIPアドレスまで検証するsafeurlのクライアントを返す。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(outboundScheme).
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は購読登録時などにURLを早期に弾くための検証で、DNS解決は行わない。
// 名前解決後の検証はNewSafeClientのクライアントが送信時に行う。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, outboundScheme) {
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if port := u.Port(); port != "" && port != outboundPort {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !isPublicAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	name := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHostnames {
		if name == blocked || strings.HasSuffix(name, "."+blocked) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsLoopback() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return false
	}
	for _, p := range extraBlockedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}
