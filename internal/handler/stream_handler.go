package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/duoflow/internal/middleware"
	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/realtime"
	"github.com/hitoshi/duoflow/internal/schedule"
)

// defaultHeartbeatInterval はSSE接続を維持するためのコメント送信間隔。
const defaultHeartbeatInterval = 25 * time.Second

// snapshot はSSEで配信するユーザーから見た状態の全体。
// 未所属の場合partnership以下はnull、メンバーが揃うまでtasksはnull。
type snapshot struct {
	User        userResponse         `json:"user"`
	Partnership *partnershipResponse `json:"partnership"`
	Harmony     *harmonyResponse     `json:"harmony"`
	Tasks       *taskListResponse    `json:"tasks"`
	Invitations []invitationResponse `json:"invitations"`

	// keys はこのスナップショットに影響する変更キー。
	keys []string
}

// SnapshotServiceInterface はSSEのスナップショットを計算するサービスインターフェース。
type SnapshotServiceInterface interface {
	Snapshot(ctx context.Context, userID string, filter model.AssigneeFilter) (*snapshot, error)
}

// ChangeSubscriber は変更キーの購読インターフェース。realtime.Hubが満たす。
type ChangeSubscriber interface {
	Subscribe(keys ...string) (<-chan struct{}, func())
}

// StreamHandler は状態のスナップショットをServer-Sent Eventsで配信するハンドラー。
type StreamHandler struct {
	snapshots SnapshotServiceInterface
	changes   ChangeSubscriber
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewStreamHandler はStreamHandlerを生成する。
func NewStreamHandler(snapshots SnapshotServiceInterface, changes ChangeSubscriber, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		snapshots: snapshots,
		changes:   changes,
		heartbeat: defaultHeartbeatInterval,
		logger:    logger,
	}
}

// Stream は接続直後と変更通知のたびにスナップショット全体を送信する。
// 変更通知はまとめられるため、連続した変更でも最新の状態が1回送られる。
// GET /api/stream?filter=all|mine|partner
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	filter, err := schedule.ParseAssigneeFilter(r.URL.Query().Get("filter"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	ctx := r.Context()

	// 計算中に確定した変更を取りこぼさないよう、スナップショットより先に購読する
	sub := &subscription{changes: h.changes}
	sub.switchTo([]string{realtime.UserKey(userID)})
	defer sub.close()

	// 最初のスナップショットが計算できない場合は通常のエラーレスポンスを返す
	snap, err := h.current(ctx, userID, filter, sub)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 長時間の接続になるため、サーバー全体の書き込みタイムアウトを外す
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	var seq int
	for {
		seq++
		if err := writeEvent(w, "snapshot", seq, snap); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.Warn("SSEのフラッシュに失敗しました", slog.String("error", err.Error()))
			return
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			case <-sub.ch:
				break wait
			}
		}

		snap, err = h.current(ctx, userID, filter, sub)
		if err != nil {
			if ctx.Err() == nil {
				h.logStreamError(userID, err)
				writeErrorEvent(w, err)
				rc.Flush()
			}
			return
		}
	}
}

// current は購読済みの状態でスナップショットを計算する。
// ペアリングの成立などで購読すべきキーが変わった場合は張り替えてから計算し直す。
func (h *StreamHandler) current(ctx context.Context, userID string, filter model.AssigneeFilter, sub *subscription) (*snapshot, error) {
	for {
		snap, err := h.snapshots.Snapshot(ctx, userID, filter)
		if err != nil {
			return nil, err
		}
		if sub.covers(snap.keys) {
			return snap, nil
		}
		sub.switchTo(snap.keys)
	}
}

// subscription は購読中の変更キーと通知チャネル。
type subscription struct {
	changes ChangeSubscriber
	keys    string
	ch      <-chan struct{}
	cancel  func()
}

func (s *subscription) covers(keys []string) bool {
	return strings.Join(keys, ",") == s.keys
}

// switchTo は新しいキーを購読してから古い購読を解除する。
func (s *subscription) switchTo(keys []string) {
	ch, cancel := s.changes.Subscribe(keys...)
	if s.cancel != nil {
		s.cancel()
	}
	s.ch, s.cancel, s.keys = ch, cancel, strings.Join(keys, ",")
}

func (s *subscription) close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (h *StreamHandler) logStreamError(userID string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		h.logger.Info("SSE配信を終了します",
			slog.String("user_id", userID),
			slog.String("code", apiErr.Code),
		)
		return
	}
	h.logger.Error("スナップショットの計算に失敗しました",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
}

// writeEvent はSSEのイベントを1件書き込む。
func writeEvent(w http.ResponseWriter, event string, id int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	return err
}

// writeErrorEvent は配信終了の理由をerrorイベントとして書き込む。
func writeErrorEvent(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError()
	}
	data, _ := json.Marshal(middleware.ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}
