// Package task はパートナーシップ内で共有するタスクの作成・編集・完了と、
// 一覧・カレンダー・日別の各ビューを提供する。
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/schedule"
	"github.com/hitoshi/duoflow/internal/security"
)

// PartnershipResolver は閲覧者の所属するパートナーシップを解決する。
type PartnershipResolver interface {
	ResolvePartnership(ctx context.Context, principalID string) (*model.Partnership, error)
}

// Store はタスクの永続化インターフェース。
type Store interface {
	FindByID(ctx context.Context, partnershipID, id string) (*model.Task, error)
	ListByPartnership(ctx context.Context, partnershipID string) ([]*model.Task, error)
	Create(ctx context.Context, task *model.Task) error
	Update(ctx context.Context, task *model.Task) (bool, error)
	SetStatus(ctx context.Context, partnershipID, id string, status model.TaskStatus, completedAt *time.Time) (*model.Task, error)
	Delete(ctx context.Context, partnershipID, id string) (bool, error)
}

// ServiceConfig はタスクサービスの設定。
type ServiceConfig struct {
	Grid     schedule.GridOptions
	Location *time.Location // 「今日」の判定に使うタイムゾーン
}

// Service はタスクのビジネスロジックを提供する。
type Service struct {
	resolver  PartnershipResolver
	store     Store
	sanitizer security.TextSanitizer
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(resolver PartnershipResolver, store Store, sanitizer security.TextSanitizer, cfg ServiceConfig) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		resolver:  resolver,
		store:     store,
		sanitizer: sanitizer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ListView は一覧ビュー（未完了・直近30日の完了）を表す。
type ListView struct {
	Filter    model.AssigneeFilter
	Pending   []*model.Task
	Completed []*model.Task
}

// CalendarView は月表示のカレンダーを表す。
type CalendarView struct {
	Month  time.Time
	Filter model.AssigneeFilter
	Cells  []schedule.Cell
}

// DayView は日別ビューを表す。
type DayView struct {
	Date   time.Time
	Filter model.AssigneeFilter
	Tasks  []*model.Task
}

// activePartnership はメンバーが揃ったパートナーシップを返す。
// 未所属またはメンバーが1人の場合はPARTNERSHIP_REQUIREDを返す。
func (s *Service) activePartnership(ctx context.Context, principalID string) (*model.Partnership, error) {
	p, err := s.resolver.ResolvePartnership(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.IsComplete() || !p.HasMember(principalID) {
		return nil, model.NewPartnershipRequiredError()
	}
	return p, nil
}

// Create はタスクを作成する。作成者にはprincipalIDが記録される。
func (s *Service) Create(ctx context.Context, principalID string, in Input) (*model.Task, error) {
	p, err := s.activePartnership(ctx, principalID)
	if err != nil {
		return nil, err
	}
	f, err := s.validate(in, p, principalID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &model.Task{
		ID:            uuid.New().String(),
		PartnershipID: p.ID,
		Status:        model.TaskStatusPending,
		CreatedBy:     principalID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	apply(t, f)

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗: %w", err)
	}
	return t, nil
}

// Update はタスクの内容を上書きする。完了状態は変更しない。
func (s *Service) Update(ctx context.Context, principalID, taskID string, in Input) (*model.Task, error) {
	p, err := s.activePartnership(ctx, principalID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.FindByID(ctx, p.ID, taskID)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗: %w", err)
	}
	if current == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	f, err := s.validate(in, p, principalID)
	if err != nil {
		return nil, err
	}
	apply(current, f)
	current.UpdatedAt = s.now()

	ok, err := s.store.Update(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗: %w", err)
	}
	if !ok {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return current, nil
}

// Delete はタスクを削除する。
func (s *Service) Delete(ctx context.Context, principalID, taskID string) error {
	p, err := s.activePartnership(ctx, principalID)
	if err != nil {
		return err
	}
	ok, err := s.store.Delete(ctx, p.ID, taskID)
	if err != nil {
		return fmt.Errorf("タスクの削除に失敗: %w", err)
	}
	if !ok {
		return model.NewTaskNotFoundError(taskID)
	}
	return nil
}

// SetStatus はタスクの完了状態を切り替える。
// 完了時はcompletedAtに現在時刻を設定し、未完了に戻した場合はクリアする。
func (s *Service) SetStatus(ctx context.Context, principalID, taskID string, completed bool) (*model.Task, error) {
	p, err := s.activePartnership(ctx, principalID)
	if err != nil {
		return nil, err
	}

	status := model.TaskStatusPending
	var completedAt *time.Time
	if completed {
		status = model.TaskStatusCompleted
		now := s.now()
		completedAt = &now
	}

	t, err := s.store.SetStatus(ctx, p.ID, taskID, status, completedAt)
	if err != nil {
		return nil, fmt.Errorf("タスクの状態更新に失敗: %w", err)
	}
	if t == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return t, nil
}

// Get はタスクを1件取得する。
func (s *Service) Get(ctx context.Context, principalID, taskID string) (*model.Task, error) {
	p, err := s.activePartnership(ctx, principalID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.FindByID(ctx, p.ID, taskID)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗: %w", err)
	}
	if t == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return t, nil
}

// List は担当者フィルタを適用した一覧ビューを返す。
func (s *Service) List(ctx context.Context, principalID string, filter model.AssigneeFilter) (*ListView, error) {
	tasks, err := s.filteredTasks(ctx, principalID, filter)
	if err != nil {
		return nil, err
	}
	b := schedule.Partition(tasks, s.now())
	return &ListView{Filter: filter, Pending: b.Pending, Completed: b.Completed}, nil
}

// Calendar はmonthの属する月のカレンダーグリッドを返す。
func (s *Service) Calendar(ctx context.Context, principalID string, month time.Time, filter model.AssigneeFilter) (*CalendarView, error) {
	tasks, err := s.filteredTasks(ctx, principalID, filter)
	if err != nil {
		return nil, err
	}
	ref := schedule.DateOf(month)
	return &CalendarView{
		Month:  time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC),
		Filter: filter,
		Cells:  schedule.MonthGrid(ref, tasks, s.cfg.Grid),
	}, nil
}

// Day は指定日に発生しているタスクを返す。
func (s *Service) Day(ctx context.Context, principalID string, day time.Time, filter model.AssigneeFilter) (*DayView, error) {
	tasks, err := s.filteredTasks(ctx, principalID, filter)
	if err != nil {
		return nil, err
	}
	d := schedule.DateOf(day)
	return &DayView{Date: d, Filter: filter, Tasks: schedule.TasksOn(tasks, d)}, nil
}

// Today は設定されたタイムゾーンにおける今日の暦日を返す。
func (s *Service) Today() time.Time {
	return schedule.DateOf(s.now().In(s.cfg.Location))
}

func (s *Service) filteredTasks(ctx context.Context, principalID string, filter model.AssigneeFilter) ([]*model.Task, error) {
	p, err := s.activePartnership(ctx, principalID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListByPartnership(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗: %w", err)
	}
	return schedule.FilterByAssignee(tasks, principalID, filter), nil
}

func (s *Service) validate(in Input, p *model.Partnership, principalID string) (*Fields, error) {
	if s.sanitizer != nil {
		in.Title = s.sanitizer.SanitizeText(in.Title)
		in.Description = s.sanitizer.SanitizeText(in.Description)
	}
	return ValidateInput(in, p, principalID)
}

func apply(t *model.Task, f *Fields) {
	t.Title = f.Title
	t.Description = f.Description
	t.Type = f.Type
	t.Difficulty = f.Difficulty
	t.StartDate = f.StartDate
	t.EndDate = f.EndDate
	t.AssignedTo = f.AssignedTo
}
