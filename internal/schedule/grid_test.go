package schedule

import (
	"testing"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
)

// TestMonthGrid_SundayStart は日曜始まりで月全体を週単位で覆うことを検証する。
func TestMonthGrid_SundayStart(t *testing.T) {
	// 2024年6月: 1日は土曜、30日は日曜。
	cells := MonthGrid(date(2024, 6, 15), nil, GridOptions{})

	if len(cells) != 42 {
		t.Fatalf("len(cells) = %d, want 42", len(cells))
	}
	if !cells[0].Date.Equal(date(2024, 5, 26)) {
		t.Errorf("first cell = %s, want 2024-05-26", cells[0].Date.Format("2006-01-02"))
	}
	if !cells[len(cells)-1].Date.Equal(date(2024, 7, 6)) {
		t.Errorf("last cell = %s, want 2024-07-06", cells[len(cells)-1].Date.Format("2006-01-02"))
	}
	if cells[0].InMonth {
		t.Error("2024-05-26 should be outside the month")
	}
	if !cells[6].InMonth || !cells[6].Date.Equal(date(2024, 6, 1)) {
		t.Errorf("cell 6 = %s inMonth=%v, want 2024-06-01 in month", cells[6].Date.Format("2006-01-02"), cells[6].InMonth)
	}
	for i, c := range cells {
		if c.Date.Weekday() != time.Weekday(i%7) {
			t.Fatalf("cell %d weekday = %v, want %v", i, c.Date.Weekday(), time.Weekday(i%7))
		}
	}
}

// TestMonthGrid_MondayStart は週の開始曜日を変更できることを検証する。
func TestMonthGrid_MondayStart(t *testing.T) {
	cells := MonthGrid(date(2024, 6, 1), nil, GridOptions{WeekStart: time.Monday})

	if !cells[0].Date.Equal(date(2024, 5, 27)) {
		t.Errorf("first cell = %s, want 2024-05-27", cells[0].Date.Format("2006-01-02"))
	}
	if !cells[len(cells)-1].Date.Equal(date(2024, 6, 30)) {
		t.Errorf("last cell = %s, want 2024-06-30", cells[len(cells)-1].Date.Format("2006-01-02"))
	}
	if len(cells)%7 != 0 {
		t.Errorf("len(cells) = %d, want multiple of 7", len(cells))
	}
}

// TestMonthGrid_ExactFourWeeks は月がちょうど4週に収まる場合に余分な週を作らないことを検証する。
func TestMonthGrid_ExactFourWeeks(t *testing.T) {
	// 2015年2月は日曜始まり・土曜終わりの28日。
	cells := MonthGrid(date(2015, 2, 10), nil, GridOptions{})
	if len(cells) != 28 {
		t.Fatalf("len(cells) = %d, want 28", len(cells))
	}
	for _, c := range cells {
		if !c.InMonth {
			t.Errorf("%s should be in month", c.Date.Format("2006-01-02"))
		}
	}
}

// TestMonthGrid_CapAndOverflow はセルあたりの表示上限と超過件数を検証する。
func TestMonthGrid_CapAndOverflow(t *testing.T) {
	var tasks []*model.Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, &model.Task{
			ID:      string(rune('a' + i)),
			Type:    model.TaskTypeSingle,
			EndDate: date(2024, 6, 10),
		})
	}
	tasks = append(tasks, &model.Task{
		ID:        "range",
		Type:      model.TaskTypeProgressive,
		StartDate: ptr(date(2024, 6, 9)),
		EndDate:   date(2024, 6, 11),
	})

	cells := MonthGrid(date(2024, 6, 1), tasks, GridOptions{})
	byDate := map[string]Cell{}
	for _, c := range cells {
		byDate[c.Date.Format("2006-01-02")] = c
	}

	c := byDate["2024-06-10"]
	if len(c.Tasks) != DefaultMaxTasksPerCell || c.Overflow != 3 || c.Total() != 6 {
		t.Errorf("2024-06-10: tasks=%d overflow=%d, want 3 and 3", len(c.Tasks), c.Overflow)
	}
	if got := ids(c.Tasks); got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("2024-06-10 tasks = %v, want [a b c]", got)
	}

	for _, d := range []string{"2024-06-09", "2024-06-11"} {
		if c := byDate[d]; len(c.Tasks) != 1 || c.Tasks[0].ID != "range" || c.Overflow != 0 {
			t.Errorf("%s: tasks=%v overflow=%d, want [range] 0", d, ids(c.Tasks), c.Overflow)
		}
	}

	raised := MonthGrid(date(2024, 6, 1), tasks, GridOptions{MaxTasksPerCell: 10})
	for _, c := range raised {
		if c.Date.Equal(date(2024, 6, 10)) && (len(c.Tasks) != 6 || c.Overflow != 0) {
			t.Errorf("raised cap: tasks=%d overflow=%d, want 6 and 0", len(c.Tasks), c.Overflow)
		}
	}
}

// TestStartOfWeek は各曜日始まりでの週の先頭日を検証する。
func TestStartOfWeek(t *testing.T) {
	wed := date(2024, 6, 12)
	if got := StartOfWeek(wed, time.Sunday); !got.Equal(date(2024, 6, 9)) {
		t.Errorf("sunday start = %s", got.Format("2006-01-02"))
	}
	if got := StartOfWeek(wed, time.Monday); !got.Equal(date(2024, 6, 10)) {
		t.Errorf("monday start = %s", got.Format("2006-01-02"))
	}
	if got := StartOfWeek(wed, time.Wednesday); !got.Equal(wed) {
		t.Errorf("wednesday start = %s", got.Format("2006-01-02"))
	}
}

// TestParseWeekday は曜日名の解析を検証する。
func TestParseWeekday(t *testing.T) {
	if d, ok := ParseWeekday("monday"); !ok || d != time.Monday {
		t.Errorf("ParseWeekday(monday) = %v, %v", d, ok)
	}
	if _, ok := ParseWeekday("someday"); ok {
		t.Error("expected unknown weekday to fail")
	}
}
