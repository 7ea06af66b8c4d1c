package model

import "time"

// TaskType はタスクの期間種別を表す。
type TaskType string

const (
	// TaskTypeSingle は終了日の1日だけに発生するタスク。
	TaskTypeSingle TaskType = "single"
	// TaskTypeProgressive は開始日から終了日まで毎日発生するタスク。
	TaskTypeProgressive TaskType = "progressive"
)

// Valid はTaskTypeが定義済みの値かを返す。
func (t TaskType) Valid() bool {
	return t == TaskTypeSingle || t == TaskTypeProgressive
}

// Difficulty はタスクの難易度を表す。
type Difficulty string

const (
	DifficultyRoutine Difficulty = "routine"
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
)

// Valid はDifficultyが定義済みの値かを返す。
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyRoutine, DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// TaskStatus はタスクの完了状態を表す。
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

// AssigneeFilter はタスク一覧の担当者フィルタを表す。
type AssigneeFilter string

const (
	// AssigneeAll は全タスクを対象とする。
	AssigneeAll AssigneeFilter = "all"
	// AssigneeMine は閲覧者自身に割り当てられたタスクのみを対象とする。
	AssigneeMine AssigneeFilter = "mine"
	// AssigneePartner はパートナーに割り当てられたタスクのみを対象とする。
	AssigneePartner AssigneeFilter = "partner"
)

// Task はパートナーシップ内で共有されるタスクを表す。
// StartDate/EndDateは暦日として扱い、時刻部分は意味を持たない。
type Task struct {
	ID            string
	PartnershipID string
	Title         string
	Description   string
	Type          TaskType
	Difficulty    Difficulty
	StartDate     *time.Time
	EndDate       time.Time
	Status        TaskStatus
	AssignedTo    string
	CreatedBy     string
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsCompleted はタスクが完了状態かを返す。
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}
