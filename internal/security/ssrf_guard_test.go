package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewSafeClient はタイムアウトとカスタムTransportが設定されることをテストする。
func TestNewSafeClient(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)

	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// TestNewSafeClientBlocksLoopback はループバックのHTTPSサーバーへの接続が拒否されることをテストする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestValidateURL はプッシュエンドポイントとして受け付けるURLを検証する。
func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"fcm endpoint", "https://fcm.googleapis.com/fcm/send/abc123", false},
		{"mozilla endpoint", "https://updates.push.services.mozilla.com/wpush/v2/xyz", false},
		{"explicit 443", "https://push.example.com:443/x", false},
		{"empty", "", true},
		{"http scheme", "http://push.example.com/x", true},
		{"javascript scheme", "javascript:alert(1)", true},
		{"other port", "https://push.example.com:8443/x", true},
		{"private ip", "https://10.0.0.5/x", true},
		{"loopback", "https://127.0.0.1/x", true},
		{"metadata ip", "https://169.254.169.254/latest", true},
		{"ipv6 loopback", "https://[::1]/x", true},
		{"zero address", "https://0.0.0.0/x", true},
		{"carrier grade nat", "https://100.64.1.1/x", true},
		{"ipv4-mapped private", "https://[::ffff:10.0.0.1]/x", true},
		{"ipv6 unique local", "https://[fd00::1]/x", true},
		{"public ip", "https://142.250.196.110/x", false},
		{"localhost", "https://localhost/x", true},
		{"metadata hostname", "https://metadata.google.internal/x", true},
		{"localhost trailing dot", "https://LOCALHOST./x", true},
		{"missing host", "https:///x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestSSRFGuardInterface はssrfGuardがSSRFGuardServiceを実装することをテストする。
func TestSSRFGuardInterface(t *testing.T) {
	var _ SSRFGuardService = NewSSRFGuard()
}
