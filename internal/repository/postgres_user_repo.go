package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/duoflow/internal/model"
)

const userColumns = `id, email, display_name, photo_url, partnership_id, created_at, updated_at`

const (
	selectUserSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	insertUserSQL = `INSERT INTO users (id, email, display_name, photo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	insertIdentitySQL = `INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	updateUserPhotoSQL = `UPDATE users SET photo_url = $2, updated_at = now() WHERE id = $1`
	deleteUserSQL      = `DELETE FROM users WHERE id = $1`

	// 1人だけのパートナーシップはメンバーが居なくなるため削除する（tasksはCASCADE）。
	dropSoloPartnershipSQL = `DELETE FROM partnerships p USING users u
		WHERE u.id = $1 AND p.id = u.partnership_id
		  AND jsonb_array_length(p.members) = 1 AND p.members->0->>'id' = u.id::text`
	// 相手が残るパートナーシップは相手だけのメンバー構成にする。
	leavePartnershipSQL = `UPDATE partnerships p
		SET members = (SELECT jsonb_agg(m) FROM jsonb_array_elements(p.members) AS m WHERE m->>'id' <> u.id::text)
		FROM users u
		WHERE u.id = $1 AND p.id = u.partnership_id AND jsonb_array_length(p.members) = 2`
)

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var partnershipID sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PhotoURL,
		&partnershipID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if partnershipID.Valid {
		u.PartnershipID = &partnershipID.String
	}
	return &u, nil
}

type PostgresUserRepo struct {
	db *sql.DB
}

func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, selectUserSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// CreateWithIdentity は初回サインイン時に呼ばれる。ユーザーとGoogleアカウントの
// 紐付けは片方だけ残らないよう1トランザクションで作る。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, u *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertUserSQL,
		u.ID, u.Email, u.DisplayName, u.PhotoURL, u.CreatedAt, u.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertIdentitySQL,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return tx.Commit()
}

func (r *PostgresUserRepo) UpdatePhotoURL(ctx context.Context, id, photoURL string) error {
	if _, err := r.db.ExecContext(ctx, updateUserPhotoSQL, id, photoURL); err != nil {
		return fmt.Errorf("failed to update user photo: %w", err)
	}
	return nil
}

// DeleteByID はユーザーをパートナーシップのメンバーから外してから削除する。
// 該当行が無ければUSER_NOT_FOUNDを返し、何も変更しない。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropSoloPartnershipSQL, id); err != nil {
		return fmt.Errorf("failed to delete partnership: %w", err)
	}
	if _, err := tx.ExecContext(ctx, leavePartnershipSQL, id); err != nil {
		return fmt.Errorf("failed to leave partnership: %w", err)
	}

	res, err := tx.ExecContext(ctx, deleteUserSQL, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n == 0 {
		return model.NewUserNotFoundError()
	}
	return tx.Commit()
}

var _ UserRepository = (*PostgresUserRepo)(nil)
