package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/duoflow/internal/model"
)

// PostgresPushSubscriptionRepo はPostgreSQLを使用したWeb Push購読リポジトリ。
type PostgresPushSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresPushSubscriptionRepo はPostgresPushSubscriptionRepoを生成する。
func NewPostgresPushSubscriptionRepo(db *sql.DB) *PostgresPushSubscriptionRepo {
	return &PostgresPushSubscriptionRepo{db: db}
}

// Upsert はエンドポイント単位で購読を登録する。
// 同じユーザー・エンドポイントが既に存在する場合は鍵のみ更新し、IDは既存のものを維持する。
func (r *PostgresPushSubscriptionRepo) Upsert(ctx context.Context, sub *model.PushSubscription) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, endpoint)
		 DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		 RETURNING id, created_at`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert push subscription: %w", err)
	}
	return nil
}

// ListByUserIDs は指定ユーザーの購読をまとめて返す。
func (r *PostgresPushSubscriptionRepo) ListByUserIDs(ctx context.Context, userIDs []string) ([]*model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at
		 FROM push_subscriptions
		 WHERE user_id = ANY($1::uuid[])
		 ORDER BY user_id, created_at`,
		pq.Array(userIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.PushSubscription
	for rows.Next() {
		s := &model.PushSubscription{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan push subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate push subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteByEndpoint はユーザーの指定エンドポイントの購読を削除する。
func (r *PostgresPushSubscriptionRepo) DeleteByEndpoint(ctx context.Context, userID, endpoint string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

// DeleteByID は購読を削除する。
func (r *PostgresPushSubscriptionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの全購読を削除する。
func (r *PostgresPushSubscriptionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user push subscriptions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PushSubscriptionRepository = (*PostgresPushSubscriptionRepo)(nil)
