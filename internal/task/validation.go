package task

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/schedule"
)

// MinTitleLength はタスクタイトルの最小文字数。
const MinTitleLength = 3

// Input はタスク作成・編集の入力値。日付は "2006-01-02" またはRFC 3339で受け付ける。
type Input struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Difficulty  string `json:"difficulty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	AssignedTo  string `json:"assigned_to"`
}

// Fields は検証済みの入力値。
type Fields struct {
	Title       string
	Description string
	Type        model.TaskType
	Difficulty  model.Difficulty
	StartDate   *time.Time
	EndDate     time.Time
	AssignedTo  string
}

// ParseDate は日付文字列を暦日に変換する。
// RFC 3339の場合は、その時刻のオフセットにおける年月日を採用する。
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return schedule.DateOf(t), true
	}
	return time.Time{}, false
}

// ValidateInput は入力値を検証し、項目ごとのエラーをまとめてVALIDATION_FAILEDとして返す。
//
// typeとdifficultyは省略時にsingle/easy、assignedToは省略時にprincipalIDとなる。
// singleタスクの開始日は無視される。
func ValidateInput(in Input, p *model.Partnership, principalID string) (*Fields, error) {
	errs := map[string]string{}
	f := &Fields{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Type:        model.TaskType(strings.TrimSpace(in.Type)),
		Difficulty:  model.Difficulty(strings.TrimSpace(in.Difficulty)),
		AssignedTo:  strings.TrimSpace(in.AssignedTo),
	}

	if utf8.RuneCountInString(f.Title) < MinTitleLength {
		errs["title"] = "タイトルは3文字以上で入力してください"
	}

	if f.Type == "" {
		f.Type = model.TaskTypeSingle
	}
	if !f.Type.Valid() {
		errs["type"] = "種別には single または progressive を指定してください"
	}

	if f.Difficulty == "" {
		f.Difficulty = model.DifficultyEasy
	}
	if !f.Difficulty.Valid() {
		errs["difficulty"] = "難易度には routine、easy、medium、hard のいずれかを指定してください"
	}

	if strings.TrimSpace(in.EndDate) == "" {
		errs["end_date"] = "終了日は必須です"
	} else if end, ok := ParseDate(in.EndDate); !ok {
		errs["end_date"] = "終了日の形式が正しくありません"
	} else {
		f.EndDate = end
	}

	if f.Type == model.TaskTypeProgressive {
		if strings.TrimSpace(in.StartDate) == "" {
			errs["start_date"] = "期間タスクには開始日が必須です"
		} else if start, ok := ParseDate(in.StartDate); !ok {
			errs["start_date"] = "開始日の形式が正しくありません"
		} else {
			f.StartDate = &start
			if _, bad := errs["end_date"]; !bad && f.EndDate.Before(start) {
				errs["end_date"] = "終了日は開始日以降の日付を指定してください"
			}
		}
	}

	if f.AssignedTo == "" {
		f.AssignedTo = principalID
	}
	if p != nil && !p.HasMember(f.AssignedTo) {
		errs["assigned_to"] = "担当者はパートナーシップのメンバーから選択してください"
	}

	if len(errs) > 0 {
		return nil, model.NewValidationError(errs)
	}
	return f, nil
}
