package handler

import (
	"time"

	"github.com/hitoshi/duoflow/internal/harmony"
	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/schedule"
	"github.com/hitoshi/duoflow/internal/task"
)

// dateLayout はAPIで暦日を表すフォーマット。
const dateLayout = "2006-01-02"

// userResponse はログインユーザーのAPIレスポンス。
type userResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	DisplayName   string  `json:"display_name"`
	PhotoURL      string  `json:"photo_url"`
	PartnershipID *string `json:"partnership_id"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		PartnershipID: u.PartnershipID,
	}
}

// harmonyResponse はHarmony FlameのAPIレスポンス。
type harmonyResponse struct {
	LastReset time.Time `json:"last_reset"`
	Days      int       `json:"days"`
}

func toHarmonyResponse(s *harmony.Status) *harmonyResponse {
	if s == nil {
		return nil
	}
	return &harmonyResponse{LastReset: s.LastReset, Days: s.Days}
}

// partnershipResponse はパートナーシップのAPIレスポンス。
type partnershipResponse struct {
	ID        string              `json:"id"`
	Members   []model.UserProfile `json:"members"`
	Complete  bool                `json:"complete"`
	LastReset time.Time           `json:"last_reset"`
	CreatedAt time.Time           `json:"created_at"`
}

func toPartnershipResponse(p *model.Partnership) *partnershipResponse {
	if p == nil {
		return nil
	}
	members := p.Members
	if members == nil {
		members = []model.UserProfile{}
	}
	return &partnershipResponse{
		ID:        p.ID,
		Members:   members,
		Complete:  p.IsComplete(),
		LastReset: p.HarmonyFlame.LastReset,
		CreatedAt: p.CreatedAt,
	}
}

// invitationResponse は招待のAPIレスポンス。
type invitationResponse struct {
	ID          string                 `json:"id"`
	From        model.InvitationSender `json:"from"`
	ToEmail     string                 `json:"to_email"`
	Status      model.InvitationStatus `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	RespondedAt *time.Time             `json:"responded_at,omitempty"`
}

func toInvitationResponse(inv *model.Invitation) invitationResponse {
	return invitationResponse{
		ID:          inv.ID,
		From:        inv.From,
		ToEmail:     inv.ToEmail,
		Status:      inv.Status,
		CreatedAt:   inv.CreatedAt,
		RespondedAt: inv.RespondedAt,
	}
}

func toInvitationResponses(invs []*model.Invitation) []invitationResponse {
	out := make([]invitationResponse, len(invs))
	for i, inv := range invs {
		out[i] = toInvitationResponse(inv)
	}
	return out
}

// taskResponse はタスクのAPIレスポンス。日付は暦日（YYYY-MM-DD）で返す。
type taskResponse struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Type        model.TaskType   `json:"type"`
	Difficulty  model.Difficulty `json:"difficulty"`
	StartDate   *string          `json:"start_date"`
	EndDate     string           `json:"end_date"`
	Status      model.TaskStatus `json:"status"`
	AssignedTo  string           `json:"assigned_to"`
	CreatedBy   string           `json:"created_by"`
	CompletedAt *time.Time       `json:"completed_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func toTaskResponse(t *model.Task) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Type:        t.Type,
		Difficulty:  t.Difficulty,
		EndDate:     t.EndDate.Format(dateLayout),
		Status:      t.Status,
		AssignedTo:  t.AssignedTo,
		CreatedBy:   t.CreatedBy,
		CompletedAt: t.CompletedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.StartDate != nil {
		s := t.StartDate.Format(dateLayout)
		resp.StartDate = &s
	}
	return resp
}

func toTaskResponses(tasks []*model.Task) []taskResponse {
	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	return out
}

// taskListResponse は一覧ビューのAPIレスポンス。
type taskListResponse struct {
	Filter    model.AssigneeFilter `json:"filter"`
	Pending   []taskResponse       `json:"pending"`
	Completed []taskResponse       `json:"completed"`
}

func toTaskListResponse(v *task.ListView) *taskListResponse {
	if v == nil {
		return nil
	}
	return &taskListResponse{
		Filter:    v.Filter,
		Pending:   toTaskResponses(v.Pending),
		Completed: toTaskResponses(v.Completed),
	}
}

// calendarCellResponse はカレンダーの1日分のセル。
type calendarCellResponse struct {
	Date     string         `json:"date"`
	InMonth  bool           `json:"in_month"`
	Tasks    []taskResponse `json:"tasks"`
	Overflow int            `json:"overflow"`
}

// calendarResponse は月表示のAPIレスポンス。
type calendarResponse struct {
	Month  string                 `json:"month"`
	Filter model.AssigneeFilter   `json:"filter"`
	Cells  []calendarCellResponse `json:"cells"`
}

func toCalendarResponse(v *task.CalendarView) calendarResponse {
	cells := make([]calendarCellResponse, len(v.Cells))
	for i, c := range v.Cells {
		cells[i] = toCalendarCellResponse(c)
	}
	return calendarResponse{
		Month:  v.Month.Format("2006-01"),
		Filter: v.Filter,
		Cells:  cells,
	}
}

func toCalendarCellResponse(c schedule.Cell) calendarCellResponse {
	return calendarCellResponse{
		Date:     c.Date.Format(dateLayout),
		InMonth:  c.InMonth,
		Tasks:    toTaskResponses(c.Tasks),
		Overflow: c.Overflow,
	}
}

// dayResponse は日別ビューのAPIレスポンス。
type dayResponse struct {
	Date   string               `json:"date"`
	Filter model.AssigneeFilter `json:"filter"`
	Tasks  []taskResponse       `json:"tasks"`
}

func toDayResponse(v *task.DayView) dayResponse {
	return dayResponse{
		Date:   v.Date.Format(dateLayout),
		Filter: v.Filter,
		Tasks:  toTaskResponses(v.Tasks),
	}
}
