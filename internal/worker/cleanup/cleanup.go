// Package cleanup は不要になったデータの自動削除ジョブを提供する。
// 期限切れのセッションと、辞退から保持期間を過ぎた招待を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// target は1種類の削除対象を表す。
type target struct {
	name  string
	query string
	days  int
}

// CleanupJob は保持期間を超過したデータの自動削除ジョブ。
// 何度実行しても結果が変わらない冪等な削除のみを行う。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger

	// SessionRetentionDays は期限切れ後もセッションを残す日数（デフォルト: 0）
	SessionRetentionDays int
	// DeclinedInvitationRetentionDays は辞退された招待の保持日数（デフォルト: 30）
	DeclinedInvitationRetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                              db,
		logger:                          logger,
		SessionRetentionDays:            0,
		DeclinedInvitationRetentionDays: 30,
	}
}

func (j *CleanupJob) targets() []target {
	return []target{
		{
			name:  "sessions",
			query: `DELETE FROM sessions WHERE expires_at < now() - $1::interval`,
			days:  j.SessionRetentionDays,
		},
		{
			name:  "declined_invitations",
			query: `DELETE FROM invitations WHERE status = 'declined' AND responded_at < now() - $1::interval`,
			days:  j.DeclinedInvitationRetentionDays,
		},
	}
}

// Run はすべての削除対象を順に処理する。
// 1つの対象で失敗しても残りの対象は処理し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	var errs []error
	for _, t := range j.targets() {
		if err := j.runTarget(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (j *CleanupJob) runTarget(ctx context.Context, t target) error {
	start := time.Now()
	interval := fmt.Sprintf("%d days", t.days)

	result, err := j.db.ExecContext(ctx, t.query, interval)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("target", t.name),
			slog.String("error", err.Error()),
			slog.Int("retention_days", t.days),
		)
		return fmt.Errorf("%sのクリーンアップに失敗: %w", t.name, err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("target", t.name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.String("target", t.name),
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", t.days),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}
