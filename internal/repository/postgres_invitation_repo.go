package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
)

// PostgresInvitationRepo はPostgreSQLを使用した招待リポジトリ。
// 招待承諾のトランザクション（PairingTx）もここから開始する。
type PostgresInvitationRepo struct {
	db *sql.DB
}

// NewPostgresInvitationRepo はPostgresInvitationRepoを生成する。
func NewPostgresInvitationRepo(db *sql.DB) *PostgresInvitationRepo {
	return &PostgresInvitationRepo{db: db}
}

const invitationColumns = `id, from_user_id, from_display_name, from_photo_url, to_email, status, created_at, responded_at`

func scanInvitation(row rowScanner) (*model.Invitation, error) {
	inv := &model.Invitation{}
	var respondedAt sql.NullTime
	if err := row.Scan(&inv.ID, &inv.From.ID, &inv.From.DisplayName, &inv.From.PhotoURL,
		&inv.ToEmail, &inv.Status, &inv.CreatedAt, &respondedAt); err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		inv.RespondedAt = &t
	}
	return inv, nil
}

// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindByID(ctx context.Context, id string) (*model.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation: %w", err)
	}
	return inv, nil
}

// FindPending は送信者とあて先が一致する保留中の招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInvitationRepo) FindPending(ctx context.Context, fromID, toEmail string) (*model.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE from_user_id = $1 AND to_email = $2 AND status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT 1`,
		fromID, toEmail,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invitation: %w", err)
	}
	return inv, nil
}

// ListPendingByEmail はあて先メールアドレス宛ての保留中の招待を作成日時の昇順で返す。
func (r *PostgresInvitationRepo) ListPendingByEmail(ctx context.Context, toEmail string) ([]*model.Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE to_email = $1 AND status = 'pending'
		 ORDER BY created_at ASC`,
		toEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]*model.Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return invitations, nil
}

// Create は招待を作成する。
func (r *PostgresInvitationRepo) Create(ctx context.Context, inv *model.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (id, from_user_id, from_display_name, from_photo_url, to_email, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.From.ID, inv.From.DisplayName, inv.From.PhotoURL, inv.ToEmail, inv.Status, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// UpdateStatus は保留中の招待の状態を更新する。保留中でなかった場合はfalseを返す。
func (r *PostgresInvitationRepo) UpdateStatus(ctx context.Context, id string, status model.InvitationStatus, respondedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE invitations SET status = $2, responded_at = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, status, respondedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update invitation status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// WithinTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合、またはコミットに失敗した場合はすべての書き込みが破棄される。
func (r *PostgresInvitationRepo) WithinTx(ctx context.Context, fn func(tx PairingTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresPairingTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postgresPairingTx は*sql.Tx上でPairingTxを実装する。
type postgresPairingTx struct {
	tx *sql.Tx
}

func (p *postgresPairingTx) LockInvitation(ctx context.Context, id string) (*model.Invitation, error) {
	inv, err := scanInvitation(p.tx.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}
	return inv, nil
}

func (p *postgresPairingTx) LockUser(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(p.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return user, nil
}

func (p *postgresPairingTx) LockPartnership(ctx context.Context, id string) (*model.Partnership, error) {
	partnership, err := scanPartnership(p.tx.QueryRowContext(ctx,
		`SELECT id, members, harmony_last_reset, created_at FROM partnerships WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock partnership: %w", err)
	}
	return partnership, nil
}

func (p *postgresPairingTx) DeletePartnership(ctx context.Context, id string) error {
	if _, err := p.tx.ExecContext(ctx, `DELETE FROM partnerships WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete partnership: %w", err)
	}
	return nil
}

func (p *postgresPairingTx) CreatePartnership(ctx context.Context, partnership *model.Partnership) error {
	members, err := json.Marshal(partnership.Members)
	if err != nil {
		return fmt.Errorf("failed to encode partnership members: %w", err)
	}
	_, err = p.tx.ExecContext(ctx,
		`INSERT INTO partnerships (id, members, harmony_last_reset, created_at)
		 VALUES ($1, $2, $3, $4)`,
		partnership.ID, members, partnership.HarmonyFlame.LastReset, partnership.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create partnership: %w", err)
	}
	return nil
}

func (p *postgresPairingTx) SetUserPartnership(ctx context.Context, userID, partnershipID string) error {
	result, err := p.tx.ExecContext(ctx,
		`UPDATE users SET partnership_id = $2, updated_at = now() WHERE id = $1`,
		userID, partnershipID,
	)
	if err != nil {
		return fmt.Errorf("failed to set user partnership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

func (p *postgresPairingTx) SetInvitationStatus(ctx context.Context, id string, status model.InvitationStatus, respondedAt time.Time) error {
	_, err := p.tx.ExecContext(ctx,
		`UPDATE invitations SET status = $2, responded_at = $3 WHERE id = $1`,
		id, status, respondedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ InvitationRepository = (*PostgresInvitationRepo)(nil)
	_ PairingTx            = (*postgresPairingTx)(nil)
)
