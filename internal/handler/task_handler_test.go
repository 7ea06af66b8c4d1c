package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/schedule"
	"github.com/hitoshi/duoflow/internal/task"
)

// --- モック定義 ---

// mockTaskService はTaskServiceInterfaceのモック実装。
type mockTaskService struct {
	createFn    func(ctx context.Context, principalID string, in task.Input) (*model.Task, error)
	updateFn    func(ctx context.Context, principalID, taskID string, in task.Input) (*model.Task, error)
	deleteFn    func(ctx context.Context, principalID, taskID string) error
	setStatusFn func(ctx context.Context, principalID, taskID string, completed bool) (*model.Task, error)
	getFn       func(ctx context.Context, principalID, taskID string) (*model.Task, error)
	listFn      func(ctx context.Context, principalID string, filter model.AssigneeFilter) (*task.ListView, error)
	calendarFn  func(ctx context.Context, principalID string, month time.Time, filter model.AssigneeFilter) (*task.CalendarView, error)
	dayFn       func(ctx context.Context, principalID string, day time.Time, filter model.AssigneeFilter) (*task.DayView, error)
	today       time.Time
}

func (m *mockTaskService) Create(ctx context.Context, principalID string, in task.Input) (*model.Task, error) {
	if m.createFn != nil {
		return m.createFn(ctx, principalID, in)
	}
	return sampleTask("t-1"), nil
}

func (m *mockTaskService) Update(ctx context.Context, principalID, taskID string, in task.Input) (*model.Task, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, principalID, taskID, in)
	}
	return sampleTask(taskID), nil
}

func (m *mockTaskService) Delete(ctx context.Context, principalID, taskID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, principalID, taskID)
	}
	return nil
}

func (m *mockTaskService) SetStatus(ctx context.Context, principalID, taskID string, completed bool) (*model.Task, error) {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, principalID, taskID, completed)
	}
	return sampleTask(taskID), nil
}

func (m *mockTaskService) Get(ctx context.Context, principalID, taskID string) (*model.Task, error) {
	if m.getFn != nil {
		return m.getFn(ctx, principalID, taskID)
	}
	return sampleTask(taskID), nil
}

func (m *mockTaskService) List(ctx context.Context, principalID string, filter model.AssigneeFilter) (*task.ListView, error) {
	if m.listFn != nil {
		return m.listFn(ctx, principalID, filter)
	}
	return &task.ListView{Filter: filter}, nil
}

func (m *mockTaskService) Calendar(ctx context.Context, principalID string, month time.Time, filter model.AssigneeFilter) (*task.CalendarView, error) {
	if m.calendarFn != nil {
		return m.calendarFn(ctx, principalID, month, filter)
	}
	return &task.CalendarView{Month: month, Filter: filter}, nil
}

func (m *mockTaskService) Day(ctx context.Context, principalID string, day time.Time, filter model.AssigneeFilter) (*task.DayView, error) {
	if m.dayFn != nil {
		return m.dayFn(ctx, principalID, day, filter)
	}
	return &task.DayView{Date: day, Filter: filter}, nil
}

func (m *mockTaskService) Today() time.Time {
	if m.today.IsZero() {
		return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	}
	return m.today
}

func sampleTask(id string) *model.Task {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	return &model.Task{
		ID:            id,
		PartnershipID: "p-1",
		Title:         "Clean the kitchen",
		Type:          model.TaskTypeProgressive,
		Difficulty:    model.DifficultyMedium,
		StartDate:     &start,
		EndDate:       time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
		Status:        model.TaskStatusPending,
		AssignedTo:    "user-1",
		CreatedBy:     "user-2",
	}
}

// --- GET /api/tasks ---

func TestTaskHandler_ListTasks_DefaultFilterAll(t *testing.T) {
	var gotFilter model.AssigneeFilter
	svc := &mockTaskService{
		listFn: func(ctx context.Context, principalID string, filter model.AssigneeFilter) (*task.ListView, error) {
			gotFilter = filter
			return &task.ListView{
				Filter:    filter,
				Pending:   []*model.Task{sampleTask("t-1")},
				Completed: []*model.Task{},
			}, nil
		},
	}
	h := NewTaskHandler(svc)

	w := httptest.NewRecorder()
	h.ListTasks(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks", nil), "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotFilter != model.AssigneeAll {
		t.Errorf("filter = %q, want %q", gotFilter, model.AssigneeAll)
	}
	var body taskListResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Pending) != 1 || body.Completed == nil {
		t.Fatalf("body = %+v", body)
	}
	got := body.Pending[0]
	if got.EndDate != "2024-03-20" || got.StartDate == nil || *got.StartDate != "2024-03-10" {
		t.Errorf("dates = %q / %v, want calendar dates", got.EndDate, got.StartDate)
	}
}

func TestTaskHandler_ListTasks_InvalidFilter(t *testing.T) {
	called := false
	svc := &mockTaskService{
		listFn: func(ctx context.Context, principalID string, filter model.AssigneeFilter) (*task.ListView, error) {
			called = true
			return nil, nil
		},
	}
	h := NewTaskHandler(svc)

	w := httptest.NewRecorder()
	h.ListTasks(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks?filter=everyone", nil), "user-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidFilter {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidFilter)
	}
	if called {
		t.Error("service should not be called with an invalid filter")
	}
}

func TestTaskHandler_ListTasks_PartnershipRequired(t *testing.T) {
	svc := &mockTaskService{
		listFn: func(ctx context.Context, principalID string, filter model.AssigneeFilter) (*task.ListView, error) {
			return nil, model.NewPartnershipRequiredError()
		},
	}
	h := NewTaskHandler(svc)

	w := httptest.NewRecorder()
	h.ListTasks(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks?filter=mine", nil), "user-1"))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// --- GET /api/tasks/calendar ---

func TestTaskHandler_Calendar_ParsesMonth(t *testing.T) {
	var gotMonth time.Time
	svc := &mockTaskService{
		calendarFn: func(ctx context.Context, principalID string, month time.Time, filter model.AssigneeFilter) (*task.CalendarView, error) {
			gotMonth = month
			return &task.CalendarView{
				Month:  month,
				Filter: filter,
				Cells: []schedule.Cell{
					{Date: time.Date(2024, 1, 28, 0, 0, 0, 0, time.UTC), InMonth: false},
					{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), InMonth: true, Overflow: 2},
				},
			}, nil
		},
	}
	h := NewTaskHandler(svc)

	w := httptest.NewRecorder()
	h.Calendar(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks/calendar?month=2024-02&filter=partner", nil), "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotMonth.Year() != 2024 || gotMonth.Month() != time.February {
		t.Errorf("month = %v, want 2024-02", gotMonth)
	}
	var body calendarResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Month != "2024-02" || body.Filter != model.AssigneePartner || len(body.Cells) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Cells[1].Date != "2024-02-01" || !body.Cells[1].InMonth || body.Cells[1].Overflow != 2 {
		t.Errorf("cell = %+v", body.Cells[1])
	}
}

func TestTaskHandler_Calendar_DefaultsToCurrentMonth(t *testing.T) {
	var gotMonth time.Time
	svc := &mockTaskService{
		today: time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC),
		calendarFn: func(ctx context.Context, principalID string, month time.Time, filter model.AssigneeFilter) (*task.CalendarView, error) {
			gotMonth = month
			return &task.CalendarView{Month: month, Filter: filter}, nil
		},
	}
	h := NewTaskHandler(svc)

	w := httptest.NewRecorder()
	h.Calendar(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks/calendar", nil), "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotMonth.Year() != 2025 || gotMonth.Month() != time.July {
		t.Errorf("month = %v, want 2025-07", gotMonth)
	}
}

func TestTaskHandler_Calendar_InvalidMonth(t *testing.T) {
	h := NewTaskHandler(&mockTaskService{})

	w := httptest.NewRecorder()
	h.Calendar(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks/calendar?month=2024-13", nil), "user-1"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidRequest)
	}
}

// --- GET /api/tasks/day ---

func TestTaskHandler_Day(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantDate   string
	}{
		{"explicit date", "?date=2024-03-12", http.StatusOK, "2024-03-12"},
		{"rfc3339 date", "?date=2024-03-12T09:30:00Z", http.StatusOK, "2024-03-12"},
		{"defaults to today", "", http.StatusOK, "2024-03-15"},
		{"malformed date", "?date=12/03/2024", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTaskHandler(&mockTaskService{})

			w := httptest.NewRecorder()
			h.Day(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks/day"+tt.query, nil), "user-1"))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body dayResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Date != tt.wantDate {
				t.Errorf("date = %q, want %q", body.Date, tt.wantDate)
			}
		})
	}
}

// --- POST /api/tasks ---

func TestTaskHandler_CreateTask_Created(t *testing.T) {
	var gotInput task.Input
	svc := &mockTaskService{
		createFn: func(ctx context.Context, principalID string, in task.Input) (*model.Task, error) {
			gotInput = in
			return sampleTask("t-new"), nil
		},
	}
	h := NewTaskHandler(svc)

	body := `{"title":"Clean the kitchen","type":"progressive","difficulty":"medium","start_date":"2024-03-10","end_date":"2024-03-20","assigned_to":"user-1"}`
	w := httptest.NewRecorder()
	h.CreateTask(w, withUserID(jsonRequest(http.MethodPost, "/api/tasks", body), "user-2"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotInput.Title != "Clean the kitchen" || gotInput.StartDate != "2024-03-10" || gotInput.AssignedTo != "user-1" {
		t.Errorf("input = %+v", gotInput)
	}
	var resp taskResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.ID != "t-new" {
		t.Errorf("id = %q, want %q", resp.ID, "t-new")
	}
}

func TestTaskHandler_CreateTask_ValidationFields(t *testing.T) {
	svc := &mockTaskService{
		createFn: func(ctx context.Context, principalID string, in task.Input) (*model.Task, error) {
			return nil, model.NewValidationError(map[string]string{
				"title":    "3文字以上で入力してください。",
				"end_date": "終了日を指定してください。",
			})
		},
	}
	h := NewTaskHandler(svc)

	w := httptest.NewRecorder()
	h.CreateTask(w, withUserID(jsonRequest(http.MethodPost, "/api/tasks", `{"title":"ab"}`), "user-1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var body struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeValidation || len(body.Fields) != 2 {
		t.Errorf("body = %+v", body)
	}
}

// --- /api/tasks/{id} ---

const (
	testTaskID      = "3b2f6c1e-9d4a-4e8b-a7c2-5f1d0e9b8a71"
	testOtherTaskID = "8c4e2a6f-1b3d-4f7a-9e5c-0d2b7a6f4e13"
)

// TestTaskHandler_MalformedID はUUIDでないIDがサービスに渡らず404になることを検証する。
func TestTaskHandler_MalformedID(t *testing.T) {
	called := false
	svc := &mockTaskService{
		getFn: func(ctx context.Context, principalID, taskID string) (*model.Task, error) {
			called = true
			return sampleTask(taskID), nil
		},
		updateFn: func(ctx context.Context, principalID, taskID string, in task.Input) (*model.Task, error) {
			called = true
			return sampleTask(taskID), nil
		},
		deleteFn: func(ctx context.Context, principalID, taskID string) error {
			called = true
			return nil
		},
		setStatusFn: func(ctx context.Context, principalID, taskID string, completed bool) (*model.Task, error) {
			called = true
			return sampleTask(taskID), nil
		},
	}
	h := NewTaskHandler(svc)

	tests := []struct {
		name    string
		method  string
		body    string
		handler http.HandlerFunc
	}{
		{"get", http.MethodGet, "", h.GetTask},
		{"update", http.MethodPut, `{"title":"Updated"}`, h.UpdateTask},
		{"delete", http.MethodDelete, "", h.DeleteTask},
		{"set status", http.MethodPut, `{"completed":true}`, h.SetTaskStatus},
	}

	for _, tt := range tests {
		for _, id := range []string{"abc", "t-1", "3b2f6c1e-9d4a-4e8b-a7c2"} {
			t.Run(tt.name+" "+id, func(t *testing.T) {
				called = false
				req := withURLParam(withUserID(jsonRequest(tt.method, "/api/tasks/"+id, tt.body), "user-1"), "id", id)
				w := httptest.NewRecorder()
				tt.handler(w, req)

				if w.Code != http.StatusNotFound {
					t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
				}
				if code := decodeErrorCode(t, w); code != model.ErrCodeTaskNotFound {
					t.Errorf("code = %q, want %q", code, model.ErrCodeTaskNotFound)
				}
				if called {
					t.Error("service must not be called with a malformed id")
				}
			})
		}
	}
}

func TestTaskHandler_GetTask_NotFound(t *testing.T) {
	svc := &mockTaskService{
		getFn: func(ctx context.Context, principalID, taskID string) (*model.Task, error) {
			return nil, model.NewTaskNotFoundError(taskID)
		},
	}
	h := NewTaskHandler(svc)

	req := withURLParam(withUserID(httptest.NewRequest(http.MethodGet, "/api/tasks/"+testTaskID, nil), "user-1"), "id", testTaskID)
	w := httptest.NewRecorder()
	h.GetTask(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeTaskNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodeTaskNotFound)
	}
}

func TestTaskHandler_UpdateTask_PassesID(t *testing.T) {
	var gotID string
	svc := &mockTaskService{
		updateFn: func(ctx context.Context, principalID, taskID string, in task.Input) (*model.Task, error) {
			gotID = taskID
			return sampleTask(taskID), nil
		},
	}
	h := NewTaskHandler(svc)

	req := withURLParam(withUserID(jsonRequest(http.MethodPut, "/api/tasks/"+testOtherTaskID, `{"title":"Updated"}`), "user-1"), "id", testOtherTaskID)
	w := httptest.NewRecorder()
	h.UpdateTask(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != testOtherTaskID {
		t.Errorf("taskID = %q, want %q", gotID, testOtherTaskID)
	}
}

func TestTaskHandler_DeleteTask_NoContent(t *testing.T) {
	h := NewTaskHandler(&mockTaskService{})

	req := withURLParam(withUserID(httptest.NewRequest(http.MethodDelete, "/api/tasks/"+testTaskID, nil), "user-1"), "id", testTaskID)
	w := httptest.NewRecorder()
	h.DeleteTask(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestTaskHandler_DeleteTask_InternalError(t *testing.T) {
	svc := &mockTaskService{
		deleteFn: func(ctx context.Context, principalID, taskID string) error {
			return errors.New("connection reset")
		},
	}
	h := NewTaskHandler(svc)

	req := withURLParam(withUserID(httptest.NewRequest(http.MethodDelete, "/api/tasks/"+testTaskID, nil), "user-1"), "id", testTaskID)
	w := httptest.NewRecorder()
	h.DeleteTask(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", code, model.ErrCodeInternal)
	}
}

// --- PUT /api/tasks/{id}/status ---

func TestTaskHandler_SetTaskStatus(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantStatus    int
		wantCalled    bool
		wantCompleted bool
	}{
		{"complete", `{"completed":true}`, http.StatusOK, true, true},
		{"reopen", `{"completed":false}`, http.StatusOK, true, false},
		{"missing flag", `{}`, http.StatusBadRequest, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			var gotCompleted bool
			svc := &mockTaskService{
				setStatusFn: func(ctx context.Context, principalID, taskID string, completed bool) (*model.Task, error) {
					called = true
					gotCompleted = completed
					return sampleTask(taskID), nil
				},
			}
			h := NewTaskHandler(svc)

			req := withURLParam(withUserID(jsonRequest(http.MethodPut, "/api/tasks/"+testTaskID+"/status", tt.body), "user-1"), "id", testTaskID)
			w := httptest.NewRecorder()
			h.SetTaskStatus(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("service called = %v, want %v", called, tt.wantCalled)
			}
			if called && gotCompleted != tt.wantCompleted {
				t.Errorf("completed = %v, want %v", gotCompleted, tt.wantCompleted)
			}
		})
	}
}
