package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/schedule"
	"github.com/hitoshi/duoflow/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
// task.Serviceが満たす。
type TaskServiceInterface interface {
	Create(ctx context.Context, principalID string, in task.Input) (*model.Task, error)
	Update(ctx context.Context, principalID, taskID string, in task.Input) (*model.Task, error)
	Delete(ctx context.Context, principalID, taskID string) error
	SetStatus(ctx context.Context, principalID, taskID string, completed bool) (*model.Task, error)
	Get(ctx context.Context, principalID, taskID string) (*model.Task, error)
	List(ctx context.Context, principalID string, filter model.AssigneeFilter) (*task.ListView, error)
	Calendar(ctx context.Context, principalID string, month time.Time, filter model.AssigneeFilter) (*task.CalendarView, error)
	Day(ctx context.Context, principalID string, day time.Time, filter model.AssigneeFilter) (*task.DayView, error)
	// Today はアプリケーションのタイムゾーンにおける今日の暦日を返す。
	Today() time.Time
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

type taskStatusRequest struct {
	Completed *bool `json:"completed"`
}

// ListTasks は未完了と直近30日の完了タスクを返す。
// GET /api/tasks?filter=all|mine|partner
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	filter, err := schedule.ParseAssigneeFilter(r.URL.Query().Get("filter"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := h.service.List(r.Context(), userID, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskListResponse(view))
}

// Calendar は月表示のカレンダーを返す。monthを省略した場合は今月。
// GET /api/tasks/calendar?month=YYYY-MM&filter=
func (h *TaskHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	filter, err := schedule.ParseAssigneeFilter(r.URL.Query().Get("filter"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	month := h.service.Today()
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("monthはYYYY-MM形式で指定してください"))
			return
		}
		month = parsed
	}

	view, err := h.service.Calendar(r.Context(), userID, month, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCalendarResponse(view))
}

// Day は指定日に発生するタスクを返す。dateを省略した場合は今日。
// GET /api/tasks/day?date=YYYY-MM-DD&filter=
func (h *TaskHandler) Day(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	filter, err := schedule.ParseAssigneeFilter(r.URL.Query().Get("filter"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	day := h.service.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, ok := task.ParseDate(raw)
		if !ok {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("dateはYYYY-MM-DD形式で指定してください"))
			return
		}
		day = parsed
	}

	view, err := h.service.Day(r.Context(), userID, day, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDayResponse(view))
}

// CreateTask はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var in task.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	t, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(t))
}

// GetTask はタスクを1件返す。
// GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	taskID, ok := requirePathID(w, r, model.NewTaskNotFoundError)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), userID, taskID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// UpdateTask はタスクを編集する。
// PUT /api/tasks/{id}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	taskID, ok := requirePathID(w, r, model.NewTaskNotFoundError)
	if !ok {
		return
	}

	var in task.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	t, err := h.service.Update(r.Context(), userID, taskID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/{id}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	taskID, ok := requirePathID(w, r, model.NewTaskNotFoundError)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, taskID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetTaskStatus はタスクの完了・未完了を切り替える。
// PUT /api/tasks/{id}/status
func (h *TaskHandler) SetTaskStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	taskID, ok := requirePathID(w, r, model.NewTaskNotFoundError)
	if !ok {
		return
	}

	var req taskStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Completed == nil {
		handleServiceError(w, model.NewValidationError(map[string]string{
			"completed": "completedを指定してください。",
		}))
		return
	}

	t, err := h.service.SetStatus(r.Context(), userID, taskID, *req.Completed)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}
