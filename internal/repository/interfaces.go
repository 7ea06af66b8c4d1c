// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdatePhotoURL はプロフィール画像（キャッシュ済みdata URL）を更新する。
	UpdatePhotoURL(ctx context.Context, id, photoURL string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、push_subscriptionsはCASCADE削除される。
	// 所属パートナーシップのメンバーからも同じトランザクションで外し、
	// 相手が居ない場合はパートナーシップごと削除する。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindLinkedUser はproviderとprovider_user_idに紐付くユーザーを返す。
	// 紐付けがない場合はnilを返す。
	FindLinkedUser(ctx context.Context, provider, providerUserID string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// PartnershipRepository はパートナーシップの永続化インターフェース。
type PartnershipRepository interface {
	// FindByID は指定IDのパートナーシップを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Partnership, error)

	// ListIDs は全パートナーシップのIDを作成日時順に返す。
	ListIDs(ctx context.Context) ([]string, error)

	// ResetHarmony はharmony_last_resetの上書きとリセットログの追記を同一トランザクションで行う。
	// パートナーシップが存在しない場合はnilを返し、何も書き込まない。
	ResetHarmony(ctx context.Context, entry *model.ResetEntry) (*model.Partnership, error)
}

// InvitationRepository は招待の永続化インターフェース。
type InvitationRepository interface {
	// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Invitation, error)

	// FindPending は送信者とあて先が一致する保留中の招待を取得する。見つからない場合はnilを返す。
	FindPending(ctx context.Context, fromID, toEmail string) (*model.Invitation, error)

	// ListPendingByEmail はあて先メールアドレス宛ての保留中の招待を作成日時の昇順で返す。
	ListPendingByEmail(ctx context.Context, toEmail string) ([]*model.Invitation, error)

	// Create は招待を作成する。
	Create(ctx context.Context, invitation *model.Invitation) error

	// UpdateStatus は保留中の招待の状態を更新する。
	// 保留中でなかった場合はfalseを返す。
	UpdateStatus(ctx context.Context, id string, status model.InvitationStatus, respondedAt time.Time) (bool, error)

	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はすべての書き込みがロールバックされる。
	WithinTx(ctx context.Context, fn func(tx PairingTx) error) error
}

// PairingTx は招待承諾時の複数レコードの更新を1トランザクションで行うための操作群。
type PairingTx interface {
	// LockInvitation は招待をFOR UPDATEで取得する。見つからない場合はnilを返す。
	LockInvitation(ctx context.Context, id string) (*model.Invitation, error)

	// LockUser はユーザーをFOR UPDATEで取得する。見つからない場合はnilを返す。
	LockUser(ctx context.Context, id string) (*model.User, error)

	// LockPartnership はパートナーシップをFOR UPDATEで取得する。見つからない場合はnilを返す。
	LockPartnership(ctx context.Context, id string) (*model.Partnership, error)

	// CreatePartnership はパートナーシップを作成する。
	CreatePartnership(ctx context.Context, p *model.Partnership) error

	// DeletePartnership はパートナーシップを削除する。タスクとリセットログはCASCADE削除される。
	DeletePartnership(ctx context.Context, id string) error

	// SetUserPartnership はユーザーのpartnership_idを設定する。
	SetUserPartnership(ctx context.Context, userID, partnershipID string) error

	// SetInvitationStatus は招待の状態を更新する。
	SetInvitationStatus(ctx context.Context, id string, status model.InvitationStatus, respondedAt time.Time) error
}

// TaskRepository はタスクの永続化インターフェース。
// すべての操作はパートナーシップIDでスコープされる。
type TaskRepository interface {
	// FindByID は指定パートナーシップ内のタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, partnershipID, id string) (*model.Task, error)

	// ListByPartnership はパートナーシップの全タスクを作成日時順に返す。
	ListByPartnership(ctx context.Context, partnershipID string) ([]*model.Task, error)

	// ListPendingDueOn は指定日が終了日の未完了タスクを返す。
	ListPendingDueOn(ctx context.Context, partnershipID string, day time.Time) ([]*model.Task, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// Update はタスクの編集可能な項目を上書きする（last-writer-wins）。
	// 対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, task *model.Task) (bool, error)

	// SetStatus はタスクの完了状態とcompleted_atを更新する。
	// 対象が存在しない場合はnilを返す。
	SetStatus(ctx context.Context, partnershipID, id string, status model.TaskStatus, completedAt *time.Time) (*model.Task, error)

	// Delete はタスクを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, partnershipID, id string) (bool, error)
}

// PushSubscriptionRepository はWeb Push購読の永続化インターフェース。
type PushSubscriptionRepository interface {
	// Upsert はエンドポイント単位で購読を登録する。
	// 同じユーザー・エンドポイントが既に存在する場合は鍵を更新する。
	Upsert(ctx context.Context, sub *model.PushSubscription) error

	// ListByUserIDs は指定ユーザーの購読をまとめて返す。
	ListByUserIDs(ctx context.Context, userIDs []string) ([]*model.PushSubscription, error)

	// DeleteByEndpoint はユーザーの指定エンドポイントの購読を削除する。
	DeleteByEndpoint(ctx context.Context, userID, endpoint string) error

	// DeleteByID は購読を削除する。配信先が失効した場合に使用する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全購読を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
