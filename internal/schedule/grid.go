package schedule

import (
	"time"

	"github.com/hitoshi/duoflow/internal/model"
)

// DefaultMaxTasksPerCell はカレンダーの1セルに表示するタスクの既定上限。
const DefaultMaxTasksPerCell = 3

// GridOptions はMonthGridの表示ポリシーを指定する。
// ゼロ値は日曜始まり・1セル3件を意味する。
type GridOptions struct {
	WeekStart       time.Weekday
	MaxTasksPerCell int
}

// Cell はカレンダーグリッドの1日分を表す。
type Cell struct {
	Date     time.Time
	Tasks    []*model.Task // 上限件数までのタスク
	Overflow int           // 上限を超えて「+N件」にまとめられた件数
	InMonth  bool          // 対象月の日付か（範囲外の日は薄く表示される）
}

// Total はそのセルで発生しているタスクの総数を返す。
func (c Cell) Total() int {
	return len(c.Tasks) + c.Overflow
}

// MonthGrid はreferenceの属する月をすべて含む週単位のカレンダーセルを返す。
//
// 月初を含む週の先頭日から、月末を含む週の最終日までを1日1セルで並べる。
// 各セルにはOccursOnが成り立つタスクを元の順序で最大MaxTasksPerCell件まで格納する。
func MonthGrid(reference time.Time, tasks []*model.Task, opts GridOptions) []Cell {
	limit := opts.MaxTasksPerCell
	if limit <= 0 {
		limit = DefaultMaxTasksPerCell
	}

	ref := DateOf(reference)
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	start := StartOfWeek(first, opts.WeekStart)
	end := StartOfWeek(last, opts.WeekStart).AddDate(0, 0, 6)

	cells := make([]Cell, 0, 42)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		cell := Cell{
			Date:    d,
			Tasks:   make([]*model.Task, 0),
			InMonth: d.Month() == ref.Month(),
		}
		for _, t := range tasks {
			if !OccursOn(t, d) {
				continue
			}
			if len(cell.Tasks) < limit {
				cell.Tasks = append(cell.Tasks, t)
			} else {
				cell.Overflow++
			}
		}
		cells = append(cells, cell)
	}
	return cells
}

// StartOfWeek はdayを含む週の先頭日（weekStart曜日）を返す。
func StartOfWeek(day time.Time, weekStart time.Weekday) time.Time {
	d := DateOf(day)
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// ParseWeekday は曜日名（sunday, mon など）をtime.Weekdayに変換する。
// 解析できない場合はfalseを返す。
func ParseWeekday(s string) (time.Weekday, bool) {
	switch s {
	case "sunday", "sun", "Sunday", "0":
		return time.Sunday, true
	case "monday", "mon", "Monday", "1":
		return time.Monday, true
	case "tuesday", "tue", "Tuesday", "2":
		return time.Tuesday, true
	case "wednesday", "wed", "Wednesday", "3":
		return time.Wednesday, true
	case "thursday", "thu", "Thursday", "4":
		return time.Thursday, true
	case "friday", "fri", "Friday", "5":
		return time.Friday, true
	case "saturday", "sat", "Saturday", "6":
		return time.Saturday, true
	}
	return time.Sunday, false
}
