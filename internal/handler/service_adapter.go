package handler

import (
	"context"

	"github.com/hitoshi/duoflow/internal/harmony"
	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/pairing"
	"github.com/hitoshi/duoflow/internal/realtime"
	"github.com/hitoshi/duoflow/internal/task"
)

// ProfileReader はユーザーの最新情報を返す。user.Serviceが満たす。
type ProfileReader interface {
	Me(ctx context.Context, userID string) (*model.User, error)
}

// PairingService はpairing.Serviceのうちアダプタが使う操作。
type PairingService interface {
	Invite(ctx context.Context, from *model.User, toEmail string) (*model.Invitation, error)
	Accept(ctx context.Context, invitationID string, principal *model.User) (*model.Partnership, error)
	Decline(ctx context.Context, invitationID string, principal *model.User) error
	ResolvePartnership(ctx context.Context, principalID string) (*model.Partnership, error)
	ListInvitations(ctx context.Context, principal *model.User) ([]*model.Invitation, error)
}

// PairingServiceAdapter はpairing.ServiceをPairingServiceInterfaceに適合させるアダプタ。
// セッションのユーザーIDから最新のユーザーを読み込んでから委譲する。
type PairingServiceAdapter struct {
	users ProfileReader
	svc   PairingService
}

// NewPairingServiceAdapter はPairingServiceAdapterを生成する。
func NewPairingServiceAdapter(users ProfileReader, svc PairingService) *PairingServiceAdapter {
	return &PairingServiceAdapter{users: users, svc: svc}
}

// Partnership は所属パートナーシップを返す。未所属の場合はPARTNERSHIP_NOT_FOUNDを返す。
func (a *PairingServiceAdapter) Partnership(ctx context.Context, userID string) (*model.Partnership, error) {
	p, err := a.svc.ResolvePartnership(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.NewPartnershipNotFoundError()
	}
	return p, nil
}

// Invitations はユーザー宛ての保留中の招待を返す。
func (a *PairingServiceAdapter) Invitations(ctx context.Context, userID string) ([]*model.Invitation, error) {
	u, err := a.users.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.ListInvitations(ctx, u)
}

// Invite はtoEmail宛ての招待を作成する。
func (a *PairingServiceAdapter) Invite(ctx context.Context, userID, toEmail string) (*model.Invitation, error) {
	u, err := a.users.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.Invite(ctx, u, toEmail)
}

// Accept は招待を承諾する。
func (a *PairingServiceAdapter) Accept(ctx context.Context, userID, invitationID string) (*model.Partnership, error) {
	u, err := a.users.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.svc.Accept(ctx, invitationID, u)
}

// Decline は招待を辞退する。
func (a *PairingServiceAdapter) Decline(ctx context.Context, userID, invitationID string) error {
	u, err := a.users.Me(ctx, userID)
	if err != nil {
		return err
	}
	return a.svc.Decline(ctx, invitationID, u)
}

// HarmonyReader はHarmony Flameの状態を返す。harmony.Serviceが満たす。
type HarmonyReader interface {
	Status(ctx context.Context, principalID string) (*harmony.Status, error)
}

// TaskLister は一覧ビューを返す。task.Serviceが満たす。
type TaskLister interface {
	List(ctx context.Context, principalID string, filter model.AssigneeFilter) (*task.ListView, error)
}

// SnapshotServiceAdapter は各サービスを組み合わせてSSEのスナップショットを計算する。
type SnapshotServiceAdapter struct {
	users   ProfileReader
	pairing PairingService
	harmony HarmonyReader
	tasks   TaskLister
}

// NewSnapshotServiceAdapter はSnapshotServiceAdapterを生成する。
func NewSnapshotServiceAdapter(users ProfileReader, pairing PairingService, harmony HarmonyReader, tasks TaskLister) *SnapshotServiceAdapter {
	return &SnapshotServiceAdapter{
		users:   users,
		pairing: pairing,
		harmony: harmony,
		tasks:   tasks,
	}
}

// Snapshot はユーザーから見た現在の状態と、それに影響する変更キーを返す。
// 未所属ならpartnershipとharmonyはnull、メンバーが揃うまでtasksはnullになる。
func (a *SnapshotServiceAdapter) Snapshot(ctx context.Context, userID string, filter model.AssigneeFilter) (*snapshot, error) {
	u, err := a.users.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		User: toUserResponse(u),
		keys: []string{realtime.UserKey(u.ID)},
	}
	if email, err := pairing.NormalizeEmail(u.Email); err == nil {
		snap.keys = append(snap.keys, realtime.InvitationsKey(email))
	}

	invitations, err := a.pairing.ListInvitations(ctx, u)
	if err != nil {
		return nil, err
	}
	snap.Invitations = toInvitationResponses(invitations)

	p, err := a.pairing.ResolvePartnership(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return snap, nil
	}
	snap.keys = append(snap.keys, realtime.PartnershipKey(p.ID))
	snap.Partnership = toPartnershipResponse(p)

	status, err := a.harmony.Status(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	snap.Harmony = toHarmonyResponse(status)

	if !p.IsComplete() {
		return snap, nil
	}
	view, err := a.tasks.List(ctx, u.ID, filter)
	if err != nil {
		return nil, err
	}
	snap.Tasks = toTaskListResponse(view)
	return snap, nil
}
