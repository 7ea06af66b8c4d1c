// Package reminder は当日が期限のタスクをプッシュ通知で知らせる定期ジョブを提供する。
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/duoflow/internal/metrics"
	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/push"
	"github.com/hitoshi/duoflow/internal/schedule"
)

// NotificationTitle はリマインダー通知のタイトル。
const NotificationTitle = "DuoFlow"

// PartnershipStore はパートナーシップの取得インターフェース。
type PartnershipStore interface {
	ListIDs(ctx context.Context) ([]string, error)
	FindByID(ctx context.Context, id string) (*model.Partnership, error)
}

// TaskStore は期限日の未完了タスクを取得するインターフェース。
type TaskStore interface {
	ListPendingDueOn(ctx context.Context, partnershipID string, day time.Time) ([]*model.Task, error)
}

// SubscriptionStore はプッシュ購読の取得・削除インターフェース。
type SubscriptionStore interface {
	ListByUserIDs(ctx context.Context, userIDs []string) ([]*model.PushSubscription, error)
	DeleteByID(ctx context.Context, id string) error
}

// Config はリマインダースケジューラの設定。
type Config struct {
	Location       *time.Location // 「今日」を決めるタイムゾーン
	TimeOfDay      time.Duration  // 配信時刻（Locationの0時からの経過時間）
	MaxConcurrency int
}

// configurable は送信に必要な設定が揃っているかを報告できるSender。
type configurable interface {
	Configured() bool
}

// Scheduler は期限リマインダーの配信を行う。
// ティッカーで全パートナーシップを巡回し、semaphoreパターンで並列数を制御する。
type Scheduler struct {
	partnerships  PartnershipStore
	tasks         TaskStore
	subscriptions SubscriptionStore
	sender        push.Sender
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	cfg           Config
	now           func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// MaxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	partnerships PartnershipStore,
	tasks TaskStore,
	subscriptions SubscriptionStore,
	sender push.Sender,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		partnerships:  partnerships,
		tasks:         tasks,
		subscriptions: subscriptions,
		sender:        sender,
		metrics:       mc,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Start はLocationのTimeOfDayを起点にinterval間隔で配信する。
// 再起動しても配信時刻はずれず、同じ枠の配信を繰り返さない。
// VAPIDの鍵が未設定の場合は何も配信せず、コンテキストがキャンセルされるまで待つ。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if !s.enabled() {
		s.logger.Warn("VAPIDの鍵が未設定のため、リマインダーは配信しません")
		<-ctx.Done()
		return
	}

	next := NextRun(s.now(), s.cfg.TimeOfDay, interval, s.cfg.Location)
	s.logger.Info("リマインダースケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Time("next_run", next),
		slog.Int("max_concurrency", s.cfg.MaxConcurrency),
		slog.String("timezone", s.cfg.Location.String()),
	)

	for {
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("リマインダースケジューラを停止しました")
			return
		case <-timer.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("リマインダー配信に失敗しました", slog.String("error", err.Error()))
			}
		}

		// タイマーが早めに発火しても同じ枠を二度実行しない
		after := s.now()
		if after.Before(next) {
			after = next
		}
		next = NextRun(after, s.cfg.TimeOfDay, interval, s.cfg.Location)
	}
}

// NextRun はafterより後で最初の配信時刻を返す。
// 配信枠はlocの当日0時+timeOfDayを起点にinterval刻みで並ぶ。
func NextRun(after time.Time, timeOfDay, interval time.Duration, loc *time.Location) time.Time {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	local := after.In(loc)
	y, m, d := local.Date()
	slot := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(timeOfDay)
	for slot.After(after) {
		slot = slot.Add(-interval)
	}
	for !slot.After(after) {
		slot = slot.Add(interval)
	}
	return slot
}

func (s *Scheduler) enabled() bool {
	c, ok := s.sender.(configurable)
	return !ok || c.Configured()
}

// RunOnce は全パートナーシップに対して1回リマインダーを配信する。
// 1件の失敗は他のパートナーシップ・受信者の配信を止めない。再送は行わない。
// 送信できない設定の場合は何もしない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.enabled() {
		return nil
	}
	start := time.Now()
	today := schedule.DateOf(s.now().In(s.cfg.Location))

	ids, err := s.partnerships.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("パートナーシップ一覧の取得に失敗: %w", err)
	}

	var notified int64
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(partnershipID string) {
			defer wg.Done()
			defer func() { <-sem }()

			ok, err := s.remind(ctx, partnershipID, today)
			if err != nil {
				s.logger.Error("パートナーシップのリマインダー処理に失敗しました",
					slog.String("partnership_id", partnershipID),
					slog.String("error", err.Error()),
				)
				return
			}
			if ok {
				atomic.AddInt64(&notified, 1)
			}
		}(id)
	}

	wg.Wait()

	duration := time.Since(start)
	s.metrics.RecordReminderSweep(duration, int(notified))
	s.logger.Info("リマインダー配信が完了しました",
		slog.String("date", today.Format("2006-01-02")),
		slog.Int("partnership_count", len(ids)),
		slog.Int64("notified_count", notified),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Body は期限タスク件数から通知本文を組み立てる。
func Body(n int) string {
	return fmt.Sprintf("You have %d task(s) due today!", n)
}

// remind は1つのパートナーシップのメンバーに通知する。
// 通知対象のタスクがあり、1件以上の送信を試みた場合にtrueを返す。
func (s *Scheduler) remind(ctx context.Context, partnershipID string, today time.Time) (bool, error) {
	candidates, err := s.tasks.ListPendingDueOn(ctx, partnershipID, today)
	if err != nil {
		return false, fmt.Errorf("期限タスクの取得に失敗: %w", err)
	}
	due := 0
	for _, t := range candidates {
		if schedule.DueOn(t, today) {
			due++
		}
	}
	if due == 0 {
		return false, nil
	}

	p, err := s.partnerships.FindByID(ctx, partnershipID)
	if err != nil {
		return false, fmt.Errorf("パートナーシップの取得に失敗: %w", err)
	}
	if p == nil {
		return false, nil
	}
	memberIDs := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		memberIDs = append(memberIDs, m.ID)
	}

	subs, err := s.subscriptions.ListByUserIDs(ctx, memberIDs)
	if err != nil {
		return false, fmt.Errorf("プッシュ購読の取得に失敗: %w", err)
	}
	if len(subs) == 0 {
		return false, nil
	}

	msg := push.Message{Title: NotificationTitle, Body: Body(due)}
	for _, sub := range subs {
		s.deliver(ctx, sub, msg)
	}
	return true, nil
}

// deliver は1件の購読に送信する。失効した購読は削除する。
func (s *Scheduler) deliver(ctx context.Context, sub *model.PushSubscription, msg push.Message) {
	err := s.sender.Send(ctx, sub, msg)
	switch {
	case err == nil:
		s.metrics.RecordPushSent()
	case errors.Is(err, push.ErrSubscriptionGone):
		s.metrics.RecordPushFailure(metrics.PushFailureGone)
		s.logger.Info("失効したプッシュ購読を削除します",
			slog.String("user_id", sub.UserID),
			slog.String("subscription_id", sub.ID),
		)
		if err := s.subscriptions.DeleteByID(ctx, sub.ID); err != nil {
			s.logger.Error("プッシュ購読の削除に失敗しました",
				slog.String("subscription_id", sub.ID),
				slog.String("error", err.Error()),
			)
		}
	default:
		s.metrics.RecordPushFailure(metrics.PushFailureError)
		s.logger.Warn("プッシュ通知の送信に失敗しました",
			slog.String("user_id", sub.UserID),
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()),
		)
	}
}
