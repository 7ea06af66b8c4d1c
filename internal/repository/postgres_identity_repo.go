package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/duoflow/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindLinkedUser はidentityをusersと結合し、紐付くユーザーを1クエリで取得する。
// ログイン時の写真補完判定とパートナーシップ有無の参照に使う。
func (r *PostgresIdentityRepo) FindLinkedUser(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.display_name, u.photo_url, u.partnership_id, u.created_at, u.updated_at
		 FROM identities i
		 JOIN users u ON u.id = i.user_id
		 WHERE i.provider = $1 AND i.provider_user_id = $2`,
		provider, providerUserID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find linked user: %w", err)
	}
	return user, nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
