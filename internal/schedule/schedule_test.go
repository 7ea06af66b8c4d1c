package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

// TestOccursOn_Single は単発タスクが終了日の暦日のみで発生することを検証する。
func TestOccursOn_Single(t *testing.T) {
	task := &model.Task{Type: model.TaskTypeSingle, EndDate: date(2024, 6, 5)}

	tests := []struct {
		name string
		day  time.Time
		want bool
	}{
		{"same date midnight", date(2024, 6, 5), true},
		{"same date late evening", time.Date(2024, 6, 5, 23, 59, 59, 0, time.UTC), true},
		{"day before", date(2024, 6, 4), false},
		{"day after", date(2024, 6, 6), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OccursOn(task, tt.day); got != tt.want {
				t.Errorf("OccursOn(%v) = %v, want %v", tt.day, got, tt.want)
			}
		})
	}
}

// TestOccursOn_Progressive は期間タスクが開始日から終了日まで（両端含む）発生することを検証する。
func TestOccursOn_Progressive(t *testing.T) {
	task := &model.Task{
		Type:      model.TaskTypeProgressive,
		StartDate: ptr(date(2024, 6, 1)),
		EndDate:   date(2024, 6, 5),
	}

	tests := []struct {
		day  time.Time
		want bool
	}{
		{date(2024, 5, 31), false},
		{date(2024, 6, 1), true},
		{date(2024, 6, 3), true},
		{date(2024, 6, 5), true},
		{date(2024, 6, 6), false},
	}

	for _, tt := range tests {
		if got := OccursOn(task, tt.day); got != tt.want {
			t.Errorf("OccursOn(%s) = %v, want %v", tt.day.Format("2006-01-02"), got, tt.want)
		}
	}
}

// TestOccursOn_LocalDay は時刻とロケーションを無視して暦日で比較することを検証する。
func TestOccursOn_LocalDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	task := &model.Task{Type: model.TaskTypeSingle, EndDate: date(2024, 6, 5)}

	// 東京の6月5日午前1時はUTCでは6月4日だが、暦日としては6月5日。
	day := time.Date(2024, 6, 5, 1, 0, 0, 0, tokyo)
	if !OccursOn(task, day) {
		t.Error("expected task to occur on local calendar date")
	}
}

// TestOccursOn_MissingEndDate は終了日のないタスクが発生しないことを検証する。
func TestOccursOn_MissingEndDate(t *testing.T) {
	task := &model.Task{Type: model.TaskTypeSingle}
	if OccursOn(task, date(2024, 6, 5)) {
		t.Error("task without end date must never occur")
	}
	if OccursOn(nil, date(2024, 6, 5)) {
		t.Error("nil task must never occur")
	}
}

// TestDueOn は期間タスクでも終了日のみが期限日とみなされることを検証する。
func TestDueOn(t *testing.T) {
	task := &model.Task{
		Type:      model.TaskTypeProgressive,
		StartDate: ptr(date(2024, 6, 1)),
		EndDate:   date(2024, 6, 5),
	}
	if DueOn(task, date(2024, 6, 3)) {
		t.Error("progressive task should not be due before its end date")
	}
	if !DueOn(task, date(2024, 6, 5)) {
		t.Error("progressive task should be due on its end date")
	}
}

// TestTasksOn は日別ビューが発生中のタスクのみを返すことを検証する。
func TestTasksOn(t *testing.T) {
	a := &model.Task{ID: "a", Type: model.TaskTypeSingle, EndDate: date(2024, 6, 3)}
	b := &model.Task{ID: "b", Type: model.TaskTypeProgressive, StartDate: ptr(date(2024, 6, 1)), EndDate: date(2024, 6, 10)}
	c := &model.Task{ID: "c", Type: model.TaskTypeSingle, EndDate: date(2024, 6, 4)}

	got := TasksOn([]*model.Task{a, b, c}, date(2024, 6, 3))
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("TasksOn = %v, want [a b]", ids(got))
	}
}

func ids(tasks []*model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// TestPartition_PendingSortedByEndDate は未完了タスクが終了日の昇順に並ぶことを検証する。
func TestPartition_PendingSortedByEndDate(t *testing.T) {
	now := date(2024, 6, 1)
	later := &model.Task{ID: "later", Status: model.TaskStatusPending, EndDate: date(2024, 6, 10)}
	sooner := &model.Task{ID: "sooner", Status: model.TaskStatusPending, EndDate: date(2024, 6, 1)}

	b := Partition([]*model.Task{later, sooner}, now)

	if got := ids(b.Pending); len(got) != 2 || got[0] != "sooner" || got[1] != "later" {
		t.Errorf("pending order = %v, want [sooner later]", got)
	}
	if len(b.Completed) != 0 {
		t.Errorf("expected no completed tasks, got %v", ids(b.Completed))
	}
}

// TestPartition_StableForEqualEndDates は同じ終了日のタスクが元の順序を保つことを検証する。
func TestPartition_StableForEqualEndDates(t *testing.T) {
	now := date(2024, 6, 1)
	tasks := []*model.Task{
		{ID: "x", Status: model.TaskStatusPending, EndDate: date(2024, 6, 2)},
		{ID: "y", Status: model.TaskStatusPending, EndDate: date(2024, 6, 2)},
		{ID: "z", Status: model.TaskStatusPending, EndDate: date(2024, 6, 2)},
	}
	got := ids(Partition(tasks, now).Pending)
	if got[0] != "x" || got[1] != "y" || got[2] != "z" {
		t.Errorf("pending order = %v, want [x y z]", got)
	}
}

// TestPartition_CompletedWindow は完了タスクの30日境界を検証する。
// ちょうど30日前の完了は除外される。
func TestPartition_CompletedWindow(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	exactly30 := now.Add(-30 * 24 * time.Hour)

	tasks := []*model.Task{
		{ID: "old", Status: model.TaskStatusCompleted, CompletedAt: ptr(now.Add(-31 * 24 * time.Hour))},
		{ID: "edge", Status: model.TaskStatusCompleted, CompletedAt: ptr(exactly30)},
		{ID: "just-inside", Status: model.TaskStatusCompleted, CompletedAt: ptr(exactly30.Add(time.Second))},
		{ID: "recent", Status: model.TaskStatusCompleted, CompletedAt: ptr(now.Add(-time.Hour))},
		{ID: "no-timestamp", Status: model.TaskStatusCompleted},
	}

	b := Partition(tasks, now)
	got := ids(b.Completed)
	if len(got) != 2 || got[0] != "recent" || got[1] != "just-inside" {
		t.Errorf("completed = %v, want [recent just-inside]", got)
	}
	if len(b.Pending) != 0 {
		t.Errorf("completed tasks must not appear in pending, got %v", ids(b.Pending))
	}
}

// TestPartition_NoTaskInBothBuckets は未完了タスクが落ちず、二重に分類されないことを検証する。
func TestPartition_NoTaskInBothBuckets(t *testing.T) {
	now := date(2024, 6, 15)
	var tasks []*model.Task
	for i := 0; i < 20; i++ {
		task := &model.Task{ID: string(rune('a' + i)), EndDate: date(2024, 6, 1+i)}
		if i%3 == 0 {
			task.Status = model.TaskStatusCompleted
			task.CompletedAt = ptr(now.Add(-time.Duration(i) * 24 * time.Hour))
		} else {
			task.Status = model.TaskStatusPending
		}
		tasks = append(tasks, task)
	}

	b := Partition(tasks, now)
	seen := map[string]int{}
	for _, task := range b.Pending {
		seen[task.ID]++
	}
	for _, task := range b.Completed {
		seen[task.ID]++
	}
	pending := 0
	for _, task := range tasks {
		if seen[task.ID] > 1 {
			t.Errorf("task %s placed in both buckets", task.ID)
		}
		if task.Status == model.TaskStatusPending {
			pending++
			if seen[task.ID] != 1 {
				t.Errorf("pending task %s was dropped", task.ID)
			}
		}
	}
	if len(b.Pending) != pending {
		t.Errorf("pending bucket size = %d, want %d", len(b.Pending), pending)
	}
}

// TestFilterByAssignee は担当者フィルタの3モードを検証する。
func TestFilterByAssignee(t *testing.T) {
	tasks := []*model.Task{
		{ID: "1", AssignedTo: "me"},
		{ID: "2", AssignedTo: "partner"},
		{ID: "3", AssignedTo: "me"},
	}

	tests := []struct {
		mode model.AssigneeFilter
		want []string
	}{
		{model.AssigneeAll, []string{"1", "2", "3"}},
		{model.AssigneeMine, []string{"1", "3"}},
		{model.AssigneePartner, []string{"2"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got := ids(FilterByAssignee(tasks, "me", tt.mode))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// TestParseAssigneeFilter は不正なフィルタが型付きエラーになることを検証する。
func TestParseAssigneeFilter(t *testing.T) {
	if f, err := ParseAssigneeFilter(""); err != nil || f != model.AssigneeAll {
		t.Errorf("empty filter = (%q, %v), want (all, nil)", f, err)
	}
	if f, err := ParseAssigneeFilter("partner"); err != nil || f != model.AssigneePartner {
		t.Errorf("partner filter = (%q, %v), want (partner, nil)", f, err)
	}

	_, err := ParseAssigneeFilter("everyone")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidFilter {
		t.Errorf("expected INVALID_FILTER error, got %v", err)
	}
}

// TestHarmonyDays は経過日数の計算と負値のクランプを検証する。
func TestHarmonyDays(t *testing.T) {
	now := time.Date(2024, 6, 20, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastReset time.Time
		want      int
	}{
		{"45 days ago", now.Add(-45 * 24 * time.Hour), 45},
		{"now", now, 0},
		{"earlier today", time.Date(2024, 6, 20, 0, 1, 0, 0, time.UTC), 0},
		{"late yesterday", time.Date(2024, 6, 19, 23, 59, 0, 0, time.UTC), 1},
		{"future", now.Add(72 * time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HarmonyDays(tt.lastReset, now); got != tt.want {
				t.Errorf("HarmonyDays = %d, want %d", got, tt.want)
			}
		})
	}
}
