package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/push"
)

// PushServiceInterface はプッシュ通知ハンドラーが必要とするサービスインターフェース。
type PushServiceInterface interface {
	VAPIDPublicKey() (string, error)
	Register(ctx context.Context, userID string, in push.SubscriptionInput) (*model.PushSubscription, error)
	Unregister(ctx context.Context, userID, endpoint string) error
}

// PushHandler はWeb Push購読のHTTPハンドラー。
type PushHandler struct {
	service PushServiceInterface
}

// NewPushHandler はPushHandlerを生成する。
func NewPushHandler(service PushServiceInterface) *PushHandler {
	return &PushHandler{service: service}
}

type pushSubscriptionResponse struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

type unregisterPushRequest struct {
	Endpoint string `json:"endpoint"`
}

// VAPIDPublicKey はブラウザがpushManager.subscribeに渡す公開鍵を返す。
// GET /api/push/vapid-public-key
func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.service.VAPIDPublicKey()
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": key})
}

// Register は端末のプッシュ購読を登録する。同じエンドポイントは上書きされる。
// POST /api/push/subscriptions
func (h *PushHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var in push.SubscriptionInput
	if !decodeJSON(w, r, &in) {
		return
	}

	sub, err := h.service.Register(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pushSubscriptionResponse{
		ID:        sub.ID,
		Endpoint:  sub.Endpoint,
		CreatedAt: sub.CreatedAt,
	})
}

// Unregister は端末のプッシュ購読を解除する。
// DELETE /api/push/subscriptions
func (h *PushHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req unregisterPushRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Unregister(r.Context(), userID, req.Endpoint); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
