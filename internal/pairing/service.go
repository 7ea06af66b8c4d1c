// Package pairing はパートナー招待の状態遷移とパートナーシップの解決を提供する。
//
// 招待は pending → accepted / declined の一方向にのみ遷移する。
// 承諾時のパートナーシップ作成・両ユーザーへの紐付け・招待の状態更新は
// 1つのトランザクションで行い、途中で失敗した場合はすべて破棄される。
package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/duoflow/internal/metrics"
	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/repository"
)

// UserReader はユーザー取得のインターフェース。
type UserReader interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// PartnershipReader はパートナーシップ取得のインターフェース。
type PartnershipReader interface {
	FindByID(ctx context.Context, id string) (*model.Partnership, error)
}

// InvitationStore は招待の永続化インターフェース。
type InvitationStore interface {
	FindByID(ctx context.Context, id string) (*model.Invitation, error)
	FindPending(ctx context.Context, fromID, toEmail string) (*model.Invitation, error)
	ListPendingByEmail(ctx context.Context, toEmail string) ([]*model.Invitation, error)
	Create(ctx context.Context, invitation *model.Invitation) error
	UpdateStatus(ctx context.Context, id string, status model.InvitationStatus, respondedAt time.Time) (bool, error)
	WithinTx(ctx context.Context, fn func(tx repository.PairingTx) error) error
}

// ServiceConfig はペアリングサービスの設定。
type ServiceConfig struct {
	// DedupePending がtrueの場合、同じ送信者から同じあて先への保留中の招待があれば
	// 新規作成せずに既存の招待を返す。
	DedupePending bool
}

// Service はペアリング（招待・承諾・辞退・パートナーシップ解決）のビジネスロジックを提供する。
type Service struct {
	users        UserReader
	partnerships PartnershipReader
	invitations  InvitationStore
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	cfg          ServiceConfig
	now          func() time.Time
	newID        func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users UserReader,
	partnerships PartnershipReader,
	invitations InvitationStore,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:        users,
		partnerships: partnerships,
		invitations:  invitations,
		metrics:      mc,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// Invite はfromからtoEmail宛ての招待を作成する。
//
// 自分自身への招待はSELF_INVITATION、既にメンバーが揃ったパートナーシップに
// 所属している場合はALREADY_PAIREDとなり、いずれも何も書き込まない。
func (s *Service) Invite(ctx context.Context, from *model.User, toEmail string) (*model.Invitation, error) {
	normalized, err := NormalizeEmail(toEmail)
	if err != nil {
		return nil, err
	}
	if sameEmail(from.Email, normalized) {
		return nil, model.NewSelfInvitationError()
	}

	paired, err := s.hasCompletePartnership(ctx, from)
	if err != nil {
		return nil, err
	}
	if paired {
		return nil, model.NewAlreadyPairedError()
	}

	if s.cfg.DedupePending {
		existing, err := s.invitations.FindPending(ctx, from.ID, normalized)
		if err != nil {
			return nil, fmt.Errorf("保留中の招待の検索に失敗: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	inv := &model.Invitation{
		ID: s.newID(),
		From: model.InvitationSender{
			ID:          from.ID,
			DisplayName: from.DisplayName,
			PhotoURL:    from.PhotoURL,
		},
		ToEmail:   normalized,
		Status:    model.InvitationPending,
		CreatedAt: s.now(),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("招待の作成に失敗: %w", err)
	}

	s.metrics.RecordInvitation(metrics.InvitationCreated)
	s.logger.Info("invitation created",
		slog.String("invitation_id", inv.ID),
		slog.String("from_user_id", from.ID),
	)
	return inv, nil
}

// Accept は招待を承諾し、招待者と承諾者の2人のパートナーシップを作成する。
//
// 事前条件: 招待が存在し、pendingで、あて先が承諾者のメールアドレスと一致し、
// どちらのユーザーもメンバーの揃ったパートナーシップに所属していないこと。
// 相手の退会で1人になったパートナーシップは同じトランザクションで削除する。
// パートナーシップ作成・両ユーザーへのpartnership_id設定・招待のaccepted化は
// 1つのトランザクションで行う。
func (s *Service) Accept(ctx context.Context, invitationID string, principal *model.User) (*model.Partnership, error) {
	inv, err := s.invitations.FindByID(ctx, invitationID)
	if err != nil {
		return nil, fmt.Errorf("招待の取得に失敗: %w", err)
	}
	if err := checkAddressee(inv, invitationID, principal); err != nil {
		return nil, err
	}
	if inv.Status != model.InvitationPending {
		return nil, model.NewInvitationAlreadyResolvedError(inv.Status)
	}
	if inv.From.ID == principal.ID {
		return nil, model.NewSelfInvitationError()
	}

	now := s.now()
	var created *model.Partnership

	err = s.invitations.WithinTx(ctx, func(tx repository.PairingTx) error {
		locked, err := tx.LockInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if locked == nil {
			return model.NewInvitationNotFoundError(invitationID)
		}
		if locked.Status != model.InvitationPending {
			return model.NewInvitationAlreadyResolvedError(locked.Status)
		}

		inviter, err := tx.LockUser(ctx, locked.From.ID)
		if err != nil {
			return err
		}
		if inviter == nil {
			return model.NewInvitationNotFoundError(invitationID)
		}
		accepter, err := tx.LockUser(ctx, principal.ID)
		if err != nil {
			return err
		}
		if accepter == nil {
			return model.NewUserNotFoundError()
		}
		// 相手が退会して1人だけ残ったパートナーシップは新しいパートナーシップに置き換える
		var abandoned []string
		for _, u := range []*model.User{inviter, accepter} {
			if !u.IsPaired() {
				continue
			}
			current, err := tx.LockPartnership(ctx, *u.PartnershipID)
			if err != nil {
				return err
			}
			if current == nil {
				continue
			}
			if current.IsComplete() {
				return model.NewAlreadyPairedError()
			}
			abandoned = append(abandoned, current.ID)
		}

		p := &model.Partnership{
			ID: s.newID(),
			Members: []model.UserProfile{
				{
					ID:          locked.From.ID,
					DisplayName: locked.From.DisplayName,
					Email:       inviter.Email,
					PhotoURL:    locked.From.PhotoURL,
				},
				accepter.Profile(),
			},
			HarmonyFlame: model.HarmonyFlame{LastReset: now},
			CreatedAt:    now,
		}

		if err := tx.CreatePartnership(ctx, p); err != nil {
			return err
		}
		if err := tx.SetUserPartnership(ctx, inviter.ID, p.ID); err != nil {
			return err
		}
		if err := tx.SetUserPartnership(ctx, accepter.ID, p.ID); err != nil {
			return err
		}
		if err := tx.SetInvitationStatus(ctx, locked.ID, model.InvitationAccepted, now); err != nil {
			return err
		}
		for _, id := range abandoned {
			if err := tx.DeletePartnership(ctx, id); err != nil {
				return err
			}
		}

		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInvitation(metrics.InvitationAccepted)
	s.logger.Info("invitation accepted",
		slog.String("invitation_id", invitationID),
		slog.String("partnership_id", created.ID),
	)
	return created, nil
}

// Decline は招待を辞退する。
// 既にdeclinedの場合は何もせず成功し、acceptedの場合はINVITATION_ALREADY_RESOLVEDを返す。
func (s *Service) Decline(ctx context.Context, invitationID string, principal *model.User) error {
	inv, err := s.invitations.FindByID(ctx, invitationID)
	if err != nil {
		return fmt.Errorf("招待の取得に失敗: %w", err)
	}
	if err := checkAddressee(inv, invitationID, principal); err != nil {
		return err
	}

	switch inv.Status {
	case model.InvitationDeclined:
		return nil
	case model.InvitationAccepted:
		return model.NewInvitationAlreadyResolvedError(inv.Status)
	}

	updated, err := s.invitations.UpdateStatus(ctx, invitationID, model.InvitationDeclined, s.now())
	if err != nil {
		return fmt.Errorf("招待の辞退に失敗: %w", err)
	}
	if !updated {
		// 並行して状態が変わった場合は最新の状態で判定し直す
		current, err := s.invitations.FindByID(ctx, invitationID)
		if err != nil {
			return fmt.Errorf("招待の取得に失敗: %w", err)
		}
		if current == nil {
			return model.NewInvitationNotFoundError(invitationID)
		}
		if current.Status != model.InvitationDeclined {
			return model.NewInvitationAlreadyResolvedError(current.Status)
		}
		return nil
	}

	s.metrics.RecordInvitation(metrics.InvitationDeclined)
	s.logger.Info("invitation declined", slog.String("invitation_id", invitationID))
	return nil
}

// ResolvePartnership はユーザーの所属するパートナーシップを返す。
// 未所属、または参照先が削除されている場合はnilを返す。
func (s *Service) ResolvePartnership(ctx context.Context, principalID string) (*model.Partnership, error) {
	user, err := s.users.FindByID(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return s.partnershipOf(ctx, user)
}

// ListInvitations はユーザー宛ての保留中の招待を古い順に返す。
func (s *Service) ListInvitations(ctx context.Context, principal *model.User) ([]*model.Invitation, error) {
	email, err := NormalizeEmail(principal.Email)
	if err != nil {
		return []*model.Invitation{}, nil
	}
	invitations, err := s.invitations.ListPendingByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("招待一覧の取得に失敗: %w", err)
	}
	if invitations == nil {
		invitations = []*model.Invitation{}
	}
	return invitations, nil
}

func (s *Service) partnershipOf(ctx context.Context, user *model.User) (*model.Partnership, error) {
	if !user.IsPaired() {
		return nil, nil
	}
	p, err := s.partnerships.FindByID(ctx, *user.PartnershipID)
	if err != nil {
		return nil, fmt.Errorf("パートナーシップの取得に失敗: %w", err)
	}
	return p, nil
}

func (s *Service) hasCompletePartnership(ctx context.Context, user *model.User) (bool, error) {
	p, err := s.partnershipOf(ctx, user)
	if err != nil {
		return false, err
	}
	return p != nil && p.IsComplete(), nil
}

// checkAddressee は招待が存在し、principal宛てであることを検証する。
func checkAddressee(inv *model.Invitation, invitationID string, principal *model.User) error {
	if inv == nil {
		return model.NewInvitationNotFoundError(invitationID)
	}
	if !sameEmail(inv.ToEmail, principal.Email) {
		return model.NewInvitationNotAddressedError()
	}
	return nil
}
