// Package push はWeb Push（VAPID）による通知配信と購読の登録を提供する。
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/hitoshi/duoflow/internal/model"
)

// ErrSubscriptionGone は購読先が失効している（404/410）ことを示す。
// 呼び出し側は該当の購読を削除する。
var ErrSubscriptionGone = errors.New("push subscription is gone")

// Message は端末に届ける通知の内容。
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Sender は1件の購読に通知を送信する。
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, msg Message) error
}

// VAPIDConfig はVAPIDの鍵ペアと連絡先。
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string // mailto: またはhttps: のURL
}

// Configured は鍵ペアが設定されているかを返す。
func (c VAPIDConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// WebPushSender はwebpush-goを使うSenderの実装。
type WebPushSender struct {
	vapid  VAPIDConfig
	client webpush.HTTPClient
	ttl    time.Duration
}

// NewWebPushSender はWebPushSenderを生成する。
// clientにはSSRF対策済みのHTTPクライアントを渡す。
func NewWebPushSender(vapid VAPIDConfig, client webpush.HTTPClient, ttl time.Duration) *WebPushSender {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &WebPushSender{vapid: vapid, client: client, ttl: ttl}
}

// Configured はVAPIDの鍵ペアが設定されているかを返す。
func (s *WebPushSender) Configured() bool {
	return s.vapid.Configured()
}

// Send は通知を暗号化して購読先のプッシュサービスへ送信する。
func (s *WebPushSender) Send(ctx context.Context, sub *model.PushSubscription, msg Message) error {
	if !s.vapid.Configured() {
		return model.NewPushNotConfiguredError()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload,
		&webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		},
		&webpush.Options{
			HTTPClient:      s.client,
			Subscriber:      s.vapid.Subject,
			VAPIDPublicKey:  s.vapid.PublicKey,
			VAPIDPrivateKey: s.vapid.PrivateKey,
			TTL:             int(s.ttl / time.Second),
			Urgency:         webpush.UrgencyNormal,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Sender = (*WebPushSender)(nil)
