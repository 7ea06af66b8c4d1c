package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/duoflow/internal/harmony"
	"github.com/hitoshi/duoflow/internal/model"
)

// PairingServiceInterface はパートナーシップ・招待ハンドラーが必要とするサービスインターフェース。
// いずれもセッションのユーザーIDを起点にする。
type PairingServiceInterface interface {
	// Partnership は所属パートナーシップを返す。未所属はPARTNERSHIP_NOT_FOUND。
	Partnership(ctx context.Context, userID string) (*model.Partnership, error)
	// Invitations はユーザー宛ての保留中の招待を返す。
	Invitations(ctx context.Context, userID string) ([]*model.Invitation, error)
	// Invite はtoEmail宛ての招待を作成する。
	Invite(ctx context.Context, userID, toEmail string) (*model.Invitation, error)
	// Accept は招待を承諾し、作成されたパートナーシップを返す。
	Accept(ctx context.Context, userID, invitationID string) (*model.Partnership, error)
	// Decline は招待を辞退する。
	Decline(ctx context.Context, userID, invitationID string) error
}

// HarmonyServiceInterface はHarmony Flameハンドラーが必要とするサービスインターフェース。
type HarmonyServiceInterface interface {
	Status(ctx context.Context, userID string) (*harmony.Status, error)
	Reset(ctx context.Context, userID, reason string) (*harmony.Status, error)
}

// PartnershipHandler はパートナーシップ・招待・Harmony FlameのHTTPハンドラー。
type PartnershipHandler struct {
	pairing PairingServiceInterface
	harmony HarmonyServiceInterface
}

// NewPartnershipHandler はPartnershipHandlerを生成する。
func NewPartnershipHandler(pairing PairingServiceInterface, harmony HarmonyServiceInterface) *PartnershipHandler {
	return &PartnershipHandler{
		pairing: pairing,
		harmony: harmony,
	}
}

type inviteRequest struct {
	Email string `json:"email"`
}

type resetHarmonyRequest struct {
	Reason string `json:"reason"`
}

// GetPartnership は所属パートナーシップを返す。
// GET /api/partnership
func (h *PartnershipHandler) GetPartnership(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.pairing.Partnership(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPartnershipResponse(p))
}

// GetHarmony はHarmony Flameの状態を返す。
// GET /api/partnership/harmony
func (h *PartnershipHandler) GetHarmony(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	status, err := h.harmony.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toHarmonyResponse(status))
}

// ResetHarmony はHarmony Flameをリセットする。理由は10文字以上必要。
// POST /api/partnership/harmony/reset
func (h *PartnershipHandler) ResetHarmony(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req resetHarmonyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status, err := h.harmony.Reset(r.Context(), userID, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toHarmonyResponse(status))
}

// ListInvitations はユーザー宛ての保留中の招待を返す。
// GET /api/invitations
func (h *PartnershipHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	invitations, err := h.pairing.Invitations(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInvitationResponses(invitations))
}

// Invite は招待を送信する。
// POST /api/invitations
func (h *PartnershipHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, err := h.pairing.Invite(r.Context(), userID, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvitationResponse(inv))
}

// AcceptInvitation は招待を承諾する。
// POST /api/invitations/{id}/accept
func (h *PartnershipHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	invitationID, ok := requirePathID(w, r, model.NewInvitationNotFoundError)
	if !ok {
		return
	}

	p, err := h.pairing.Accept(r.Context(), userID, invitationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPartnershipResponse(p))
}

// DeclineInvitation は招待を辞退する。
// POST /api/invitations/{id}/decline
func (h *PartnershipHandler) DeclineInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	invitationID, ok := requirePathID(w, r, model.NewInvitationNotFoundError)
	if !ok {
		return
	}

	if err := h.pairing.Decline(r.Context(), userID, invitationID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
