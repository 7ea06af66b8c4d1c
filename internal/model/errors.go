// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, pairing, task, push, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // 入力項目ごとのエラー（バリデーションエラー時のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// 定義済みエラーコード
const (
	ErrCodeValidation                = "VALIDATION_FAILED"
	ErrCodeInvalidFilter             = "INVALID_FILTER"
	ErrCodeInvalidEmail              = "INVALID_EMAIL"
	ErrCodeSelfInvitation            = "SELF_INVITATION"
	ErrCodeInvitationNotFound        = "INVITATION_NOT_FOUND"
	ErrCodeInvitationNotAddressed    = "INVITATION_NOT_ADDRESSED"
	ErrCodeInvitationAlreadyResolved = "INVITATION_ALREADY_RESOLVED"
	ErrCodeAlreadyPaired             = "ALREADY_PAIRED"
	ErrCodePartnershipNotFound       = "PARTNERSHIP_NOT_FOUND"
	ErrCodePartnershipRequired       = "PARTNERSHIP_REQUIRED"
	ErrCodeTaskNotFound              = "TASK_NOT_FOUND"
	ErrCodePushNotConfigured         = "PUSH_NOT_CONFIGURED"
	ErrCodeUserNotFound              = "USER_NOT_FOUND"
	ErrCodeUnauthorized              = "UNAUTHORIZED"
	ErrCodeCSRFInvalid               = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited               = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal                  = "INTERNAL_ERROR"
	ErrCodeInvalidRequest            = "INVALID_REQUEST"
)

// NewValidationError は入力項目ごとのバリデーションエラーを生成する。
// fieldsのキーは入力項目名、値はその項目のエラー内容。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目のエラー内容を確認して再入力してください。",
		Fields:   fields,
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s", filter),
		Category: "validation",
		Action:   "フィルタには all、mine、partner のいずれかを指定してください。",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "パートナーのメールアドレスを正しい形式で入力してください。",
		Fields:   map[string]string{"email": "メールアドレスの形式が正しくありません"},
	}
}

// NewSelfInvitationError は自分自身を招待しようとした場合のエラーを生成する。
func NewSelfInvitationError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfInvitation,
		Message:  "自分自身を招待することはできません。",
		Category: "pairing",
		Action:   "パートナーのメールアドレスを入力してください。",
	}
}

// NewInvitationNotFoundError は招待が見つからない場合のエラーを生成する。
func NewInvitationNotFoundError(invitationID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvitationNotFound,
		Message:  fmt.Sprintf("指定された招待が見つかりません: %s", invitationID),
		Category: "pairing",
		Action:   "招待一覧を更新してください。",
	}
}

// NewInvitationNotAddressedError は自分宛てではない招待を操作しようとした場合のエラーを生成する。
func NewInvitationNotAddressedError() *APIError {
	return &APIError{
		Code:     ErrCodeInvitationNotAddressed,
		Message:  "この招待はあなた宛てではありません。",
		Category: "pairing",
		Action:   "招待されたメールアドレスのアカウントでログインしてください。",
	}
}

// NewInvitationAlreadyResolvedError は処理済みの招待を操作しようとした場合のエラーを生成する。
func NewInvitationAlreadyResolvedError(status InvitationStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvitationAlreadyResolved,
		Message:  fmt.Sprintf("この招待は既に処理済みです: %s", status),
		Category: "pairing",
		Action:   "招待一覧を更新してください。",
	}
}

// NewAlreadyPairedError は既にパートナーがいるユーザーに対する操作のエラーを生成する。
func NewAlreadyPairedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyPaired,
		Message:  "既にパートナーシップに参加しています。",
		Category: "pairing",
		Action:   "現在のパートナーシップを確認してください。",
	}
}

// NewPartnershipNotFoundError はパートナーシップ未所属の場合のエラーを生成する。
func NewPartnershipNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePartnershipNotFound,
		Message:  "パートナーシップが見つかりません。",
		Category: "pairing",
		Action:   "パートナーを招待するか、届いた招待を承諾してください。",
	}
}

// NewPartnershipRequiredError はメンバーが揃っていない状態でタスク機能を使おうとした場合のエラーを生成する。
func NewPartnershipRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodePartnershipRequired,
		Message:  "この機能はパートナーとペアになってから利用できます。",
		Category: "pairing",
		Action:   "パートナーを招待してください。",
	}
}

// NewTaskNotFoundError はタスクが見つからない場合のエラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスク一覧を更新してください。",
	}
}

// NewPushNotConfiguredError はサーバーにVAPID鍵が設定されていない場合のエラーを生成する。
func NewPushNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodePushNotConfigured,
		Message:  "プッシュ通知は現在利用できません。",
		Category: "push",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は未ログインまたはセッション切れのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディやクエリを解釈できない場合のエラーを生成する。
func NewInvalidRequestError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストを解釈できません: %s", detail),
		Category: "validation",
		Action:   "正しい形式でリクエストしてください。",
	}
}
