package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
// start_date/end_dateはDATE型で保存し、暦日のみを扱う。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `id, partnership_id, title, description, type, difficulty, start_date, end_date,
	status, assigned_to, created_by, completed_at, created_at, updated_at`

const dateLayout = "2006-01-02"

func scanTask(row rowScanner) (*model.Task, error) {
	t := &model.Task{}
	var startDate, completedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.PartnershipID, &t.Title, &t.Description, &t.Type, &t.Difficulty,
		&startDate, &t.EndDate, &t.Status, &t.AssignedTo, &t.CreatedBy, &completedAt,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.EndDate = calendarDate(t.EndDate)
	if startDate.Valid {
		d := calendarDate(startDate.Time)
		t.StartDate = &d
	}
	if completedAt.Valid {
		c := completedAt.Time
		t.CompletedAt = &c
	}
	return t, nil
}

// calendarDate はDATE列の値をUTCの0時に揃える。
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nullableDate(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(dateLayout)
}

func (r *PostgresTaskRepo) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// FindByID は指定パートナーシップ内のタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, partnershipID, id string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE partnership_id = $1 AND id = $2`,
		partnershipID, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return t, nil
}

// ListByPartnership はパートナーシップの全タスクを作成日時順に返す。
func (r *PostgresTaskRepo) ListByPartnership(ctx context.Context, partnershipID string) ([]*model.Task, error) {
	return r.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE partnership_id = $1 ORDER BY created_at ASC, id ASC`,
		partnershipID,
	)
}

// ListPendingDueOn は指定日が終了日の未完了タスクを返す。
func (r *PostgresTaskRepo) ListPendingDueOn(ctx context.Context, partnershipID string, day time.Time) ([]*model.Task, error) {
	return r.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE partnership_id = $1 AND status = 'pending' AND end_date = $2::date
		 ORDER BY created_at ASC`,
		partnershipID, day.Format(dateLayout),
	)
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, t *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, partnership_id, title, description, type, difficulty, start_date, end_date,
		                    status, assigned_to, created_by, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.PartnershipID, t.Title, t.Description, t.Type, t.Difficulty,
		nullableDate(t.StartDate), t.EndDate.Format(dateLayout),
		t.Status, t.AssignedTo, t.CreatedBy, t.CompletedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Update はタスクの編集可能な項目を上書きする。対象が存在しない場合はfalseを返す。
func (r *PostgresTaskRepo) Update(ctx context.Context, t *model.Task) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks
		 SET title = $3, description = $4, type = $5, difficulty = $6,
		     start_date = $7, end_date = $8, assigned_to = $9, updated_at = $10
		 WHERE partnership_id = $1 AND id = $2`,
		t.PartnershipID, t.ID, t.Title, t.Description, t.Type, t.Difficulty,
		nullableDate(t.StartDate), t.EndDate.Format(dateLayout), t.AssignedTo, t.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// SetStatus はタスクの完了状態とcompleted_atを更新する。対象が存在しない場合はnilを返す。
func (r *PostgresTaskRepo) SetStatus(ctx context.Context, partnershipID, id string, status model.TaskStatus, completedAt *time.Time) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`UPDATE tasks SET status = $3, completed_at = $4, updated_at = now()
		 WHERE partnership_id = $1 AND id = $2
		 RETURNING `+taskColumns,
		partnershipID, id, status, completedAt,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	return t, nil
}

// Delete はタスクを削除する。対象が存在しない場合はfalseを返す。
func (r *PostgresTaskRepo) Delete(ctx context.Context, partnershipID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE partnership_id = $1 AND id = $2`,
		partnershipID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
