// Package realtime はPostgreSQLのLISTEN/NOTIFYを購読し、変更通知を購読者へ配信する。
//
// 通知は「変更があった」ことだけを伝え、購読者は受信のたびに最新の状態を読み直す。
// 未処理の通知は1件にまとめられるため、遅い購読者が配信を詰まらせることはない。
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Channel はデータベーストリガーが通知を送るチャネル名。
const Channel = "duoflow_changes"

// pingInterval は通知がない間に接続を確認する間隔。
const pingInterval = 90 * time.Second

// PartnershipKey はパートナーシップ（タスク・Harmony Flame）の変更キーを返す。
func PartnershipKey(id string) string { return "partnership:" + id }

// UserKey はユーザーの所属パートナーシップの変更キーを返す。
func UserKey(id string) string { return "user:" + id }

// InvitationsKey はメールアドレス宛ての招待の変更キーを返す。
func InvitationsKey(email string) string { return "invitations:" + email }

// Source は通知の供給元。*pq.Listenerが満たす。
type Source interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
}

type subscriber struct {
	ch chan struct{}
}

func (s *subscriber) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Hub は変更キーごとの購読者を管理する。
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	logger *slog.Logger
}

// NewHub はHubの新しいインスタンスを生成する。
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe はいずれかのキーに変更があったときに通知を受けるチャネルを返す。
// 返されたcancelを呼ぶと購読を解除する。
func (h *Hub) Subscribe(keys ...string) (<-chan struct{}, func()) {
	s := &subscriber{ch: make(chan struct{}, 1)}

	h.mu.Lock()
	for _, k := range keys {
		set, ok := h.subs[k]
		if !ok {
			set = make(map[*subscriber]struct{})
			h.subs[k] = set
		}
		set[s] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for _, k := range keys {
				if set, ok := h.subs[k]; ok {
					delete(set, s)
					if len(set) == 0 {
						delete(h.subs, k)
					}
				}
			}
		})
	}
	return s.ch, cancel
}

// Publish はキーの購読者に変更を通知する。
func (h *Hub) Publish(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[key] {
		s.signal()
	}
}

// Broadcast はすべての購読者に変更を通知する。
// 再接続の間に取りこぼした通知を補うために使う。
func (h *Hub) Broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			s.signal()
		}
	}
}

// Subscribers は購読中のキーの数を返す。
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run はsrcの通知をctxがキャンセルされるまで配信する。
// pq.Listenerは再接続後にnilを送るため、その場合は全購読者に通知する。
func (h *Hub) Run(ctx context.Context, src Source) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	notifications := src.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				h.logger.Warn("realtime: notification channel closed")
				return
			}
			if n == nil {
				h.logger.Info("realtime: listener reconnected")
				h.Broadcast()
				continue
			}
			h.Publish(n.Extra)
		case <-ticker.C:
			if err := src.Ping(); err != nil {
				h.logger.Warn("realtime: ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Listen はdsnに接続してChannelをLISTENするpq.Listenerを返す。
func Listen(dsn string, logger *slog.Logger) (*pq.Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("realtime: listener event", slog.Int("event", int(ev)), slog.String("error", err.Error()))
		}
	})
	if err := l.Listen(Channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}
	return l, nil
}
