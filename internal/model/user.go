// Package model はドメインモデルを定義する。
package model

import "time"

// UserProfile はパートナーシップやタスク表示で共有されるユーザーの公開情報を表す。
// パートナーシップ・招待にはこのスナップショットが非正規化して保存される。
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photo_url"`
}

// User はサービス利用ユーザーを表す。
// PartnershipIDはパートナーシップ未所属の場合nil。
type User struct {
	ID            string
	Email         string
	DisplayName   string
	PhotoURL      string
	PartnershipID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Profile はユーザーの公開プロフィールを返す。
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		PhotoURL:    u.PhotoURL,
	}
}

// IsPaired はユーザーがパートナーシップに所属しているかを返す。
func (u *User) IsPaired() bool {
	return u.PartnershipID != nil && *u.PartnershipID != ""
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
