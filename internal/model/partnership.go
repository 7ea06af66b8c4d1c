package model

import "time"

// HarmonyFlame はパートナーシップの「連続日数」カウンタの状態を表す。
type HarmonyFlame struct {
	LastReset time.Time
}

// Partnership は2人のユーザーの共有単位を表す。
// Membersは作成時点のプロフィールのスナップショットで、以降同期されない。
type Partnership struct {
	ID           string
	Members      []UserProfile
	HarmonyFlame HarmonyFlame
	CreatedAt    time.Time
}

// IsComplete はメンバーが2人揃っているかを返す。
// 1人だけのパートナーシップではタスク機能は利用できない。
func (p *Partnership) IsComplete() bool {
	return len(p.Members) == 2
}

// HasMember は指定ユーザーがメンバーかを返す。
func (p *Partnership) HasMember(userID string) bool {
	for _, m := range p.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// PartnerOf は指定ユーザーから見たパートナーのプロフィールを返す。
// 見つからない場合はfalseを返す。
func (p *Partnership) PartnerOf(userID string) (UserProfile, bool) {
	if !p.HasMember(userID) {
		return UserProfile{}, false
	}
	for _, m := range p.Members {
		if m.ID != userID {
			return m, true
		}
	}
	return UserProfile{}, false
}

// ResetEntry はHarmony Flameリセットの追記専用ログを表す。
type ResetEntry struct {
	ID            string
	PartnershipID string
	Reason        string
	ResetBy       string
	Timestamp     time.Time
}

// InvitationStatus は招待の状態を表す。
// pendingが初期状態で、accepted/declinedは終端状態。
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// InvitationSender は招待送信者のスナップショットを表す。
type InvitationSender struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

// Invitation はパートナーシップへの招待を表す。
// ToEmailは正規化済みのメールアドレスを保持する。
type Invitation struct {
	ID          string
	From        InvitationSender
	ToEmail     string
	Status      InvitationStatus
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// PushSubscription はWeb Pushの購読情報（端末ごと）を表す。
type PushSubscription struct {
	ID        string
	UserID    string
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}
