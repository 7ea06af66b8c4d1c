package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/duoflow/internal/model"
)

// PostgresPartnershipRepo はPostgreSQLを使用したパートナーシップリポジトリ。
// メンバーのプロフィールはJSONBのスナップショットとして保存する。
type PostgresPartnershipRepo struct {
	db *sql.DB
}

// NewPostgresPartnershipRepo はPostgresPartnershipRepoを生成する。
func NewPostgresPartnershipRepo(db *sql.DB) *PostgresPartnershipRepo {
	return &PostgresPartnershipRepo{db: db}
}

func scanPartnership(row rowScanner) (*model.Partnership, error) {
	p := &model.Partnership{}
	var members []byte
	if err := row.Scan(&p.ID, &members, &p.HarmonyFlame.LastReset, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(members, &p.Members); err != nil {
		return nil, fmt.Errorf("failed to decode partnership members: %w", err)
	}
	return p, nil
}

// FindByID は指定IDのパートナーシップを取得する。見つからない場合はnilを返す。
func (r *PostgresPartnershipRepo) FindByID(ctx context.Context, id string) (*model.Partnership, error) {
	p, err := scanPartnership(r.db.QueryRowContext(ctx,
		`SELECT id, members, harmony_last_reset, created_at FROM partnerships WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find partnership: %w", err)
	}
	return p, nil
}

// ListIDs は全パートナーシップのIDを作成日時順に返す。
func (r *PostgresPartnershipRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM partnerships ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list partnerships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan partnership id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partnerships: %w", err)
	}
	return ids, nil
}

// ResetHarmony はharmony_last_resetの上書きとリセットログの追記を同一トランザクションで行う。
func (r *PostgresPartnershipRepo) ResetHarmony(ctx context.Context, entry *model.ResetEntry) (*model.Partnership, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPartnership(tx.QueryRowContext(ctx,
		`UPDATE partnerships SET harmony_last_reset = $2 WHERE id = $1
		 RETURNING id, members, harmony_last_reset, created_at`,
		entry.PartnershipID, entry.Timestamp,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update harmony flame: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO harmony_resets (id, partnership_id, reason, reset_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.PartnershipID, entry.Reason, entry.ResetBy, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert harmony reset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ PartnershipRepository = (*PostgresPartnershipRepo)(nil)
