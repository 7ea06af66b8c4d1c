package push

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/security"
)

// SubscriptionStore はプッシュ購読の永続化インターフェース。
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *model.PushSubscription) error
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) error
}

// SubscriptionInput はブラウザのPushSubscription.toJSON()の形式。
type SubscriptionInput struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Service はプッシュ購読の登録・解除を提供する。
type Service struct {
	store  SubscriptionStore
	guard  security.SSRFGuardService
	vapid  VAPIDConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store SubscriptionStore, guard security.SSRFGuardService, vapid VAPIDConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		guard:  guard,
		vapid:  vapid,
		logger: logger,
		now:    time.Now,
	}
}

// VAPIDPublicKey はブラウザの購読に使う公開鍵を返す。
func (s *Service) VAPIDPublicKey() (string, error) {
	if !s.vapid.Configured() {
		return "", model.NewPushNotConfiguredError()
	}
	return s.vapid.PublicKey, nil
}

// Register は端末の購読を登録する。同じエンドポイントの再登録は鍵の更新として扱う。
func (s *Service) Register(ctx context.Context, userID string, in SubscriptionInput) (*model.PushSubscription, error) {
	if !s.vapid.Configured() {
		return nil, model.NewPushNotConfiguredError()
	}

	endpoint := strings.TrimSpace(in.Endpoint)
	errs := map[string]string{}
	if endpoint == "" {
		errs["endpoint"] = "エンドポイントは必須です"
	} else if err := s.guard.ValidateURL(endpoint); err != nil {
		errs["endpoint"] = "このエンドポイントは使用できません"
	}
	if strings.TrimSpace(in.Keys.P256dh) == "" {
		errs["keys.p256dh"] = "p256dhは必須です"
	}
	if strings.TrimSpace(in.Keys.Auth) == "" {
		errs["keys.auth"] = "authは必須です"
	}
	if len(errs) > 0 {
		return nil, model.NewValidationError(errs)
	}

	sub := &model.PushSubscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    strings.TrimSpace(in.Keys.P256dh),
		Auth:      strings.TrimSpace(in.Keys.Auth),
		CreatedAt: s.now(),
	}
	if err := s.store.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("プッシュ購読の登録に失敗: %w", err)
	}
	s.logger.Info("push subscription registered", slog.String("user_id", userID))
	return sub, nil
}

// Unregister は端末の購読を解除する。存在しない場合も成功として扱う。
func (s *Service) Unregister(ctx context.Context, userID, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return model.NewValidationError(map[string]string{"endpoint": "エンドポイントは必須です"})
	}
	if err := s.store.DeleteByEndpoint(ctx, userID, endpoint); err != nil {
		return fmt.Errorf("プッシュ購読の解除に失敗: %w", err)
	}
	return nil
}
