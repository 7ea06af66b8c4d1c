// Package schedule はタスクの暦日判定・一覧の分類・カレンダーグリッド生成を行う。
// すべての関数は副作用を持たない純粋関数で、スナップショットごとに何度呼び出してもよい。
package schedule

import (
	"sort"
	"time"

	"github.com/hitoshi/duoflow/internal/model"
)

// CompletedRetention は完了タスクを一覧に表示する期間。
const CompletedRetention = 30 * 24 * time.Hour

// DateOf はtの暦日（tのロケーションにおける年月日）をUTCの0時として返す。
// 時刻部分とタイムゾーン差は比較から除外される。
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate はaとbが同じ暦日かを返す。
func SameDate(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}

// OccursOn はタスクが指定の暦日に「発生」しているかを返す。
//
// singleタスクは終了日と同じ暦日のみ、progressiveタスクは開始日から終了日まで
// （両端を含む）で発生する。終了日がないタスクは常にfalse。
func OccursOn(task *model.Task, day time.Time) bool {
	if task == nil || task.EndDate.IsZero() {
		return false
	}
	d := DateOf(day)
	end := DateOf(task.EndDate)

	if task.Type == model.TaskTypeProgressive && task.StartDate != nil && !task.StartDate.IsZero() {
		start := DateOf(*task.StartDate)
		return !d.Before(start) && !d.After(end)
	}
	return d.Equal(end)
}

// DueOn はタスクの終了日が指定の暦日かを返す。
// progressiveタスクも終了日のみで判定する。
func DueOn(task *model.Task, day time.Time) bool {
	if task == nil || task.EndDate.IsZero() {
		return false
	}
	return SameDate(task.EndDate, day)
}

// TasksOn は指定の暦日に発生しているタスクを元の順序のまま返す。
func TasksOn(tasks []*model.Task, day time.Time) []*model.Task {
	out := make([]*model.Task, 0)
	for _, t := range tasks {
		if OccursOn(t, day) {
			out = append(out, t)
		}
	}
	return out
}

// Buckets は一覧表示用の未完了/完了タスクの分類結果を表す。
type Buckets struct {
	Pending   []*model.Task
	Completed []*model.Task
}

// Partition はタスクを未完了と完了に分類する。
//
// 未完了は終了日の昇順（同日は元の順序を保持）。完了はcompletedAtがnow-30日より
// 後のもののみを対象とし、completedAtの降順に並べる。ちょうど30日前に完了した
// タスクは含まれない。
func Partition(tasks []*model.Task, now time.Time) Buckets {
	b := Buckets{
		Pending:   make([]*model.Task, 0),
		Completed: make([]*model.Task, 0),
	}
	cutoff := now.Add(-CompletedRetention)

	for _, t := range tasks {
		if t == nil {
			continue
		}
		switch t.Status {
		case model.TaskStatusCompleted:
			if t.CompletedAt != nil && t.CompletedAt.After(cutoff) {
				b.Completed = append(b.Completed, t)
			}
		default:
			b.Pending = append(b.Pending, t)
		}
	}

	sort.SliceStable(b.Pending, func(i, j int) bool {
		return b.Pending[i].EndDate.Before(b.Pending[j].EndDate)
	})
	sort.SliceStable(b.Completed, func(i, j int) bool {
		return b.Completed[i].CompletedAt.After(*b.Completed[j].CompletedAt)
	})
	return b
}

// FilterByAssignee は担当者フィルタを適用する。
// mineは閲覧者に割り当てられたタスク、partnerはそれ以外、allはすべてを返す。
func FilterByAssignee(tasks []*model.Task, principalID string, mode model.AssigneeFilter) []*model.Task {
	if mode == model.AssigneeAll || mode == "" {
		return tasks
	}
	out := make([]*model.Task, 0, len(tasks))
	for _, t := range tasks {
		mine := t.AssignedTo == principalID
		if (mode == model.AssigneeMine && mine) || (mode == model.AssigneePartner && !mine) {
			out = append(out, t)
		}
	}
	return out
}

// ParseAssigneeFilter はクエリ文字列からAssigneeFilterを解析する。
// 空文字列はallとして扱う。
func ParseAssigneeFilter(s string) (model.AssigneeFilter, error) {
	switch model.AssigneeFilter(s) {
	case "", model.AssigneeAll:
		return model.AssigneeAll, nil
	case model.AssigneeMine:
		return model.AssigneeMine, nil
	case model.AssigneePartner:
		return model.AssigneePartner, nil
	}
	return "", model.NewInvalidFilterError(s)
}

// HarmonyDays はlastResetからnowまでの経過日数を返す。
// 両方を暦日に切り捨てた差で、負になる場合は0を返す。
func HarmonyDays(lastReset, now time.Time) int {
	diff := DateOf(now).Sub(DateOf(lastReset))
	days := int(diff / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}
