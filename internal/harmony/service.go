// Package harmony はHarmony Flame（最後のリセットからの連続日数）の参照とリセットを提供する。
package harmony

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/duoflow/internal/metrics"
	"github.com/hitoshi/duoflow/internal/model"
	"github.com/hitoshi/duoflow/internal/schedule"
	"github.com/hitoshi/duoflow/internal/security"
)

// MinReasonLength はリセット理由の最小文字数。
const MinReasonLength = 10

// PartnershipResolver は閲覧者の所属するパートナーシップを解決する。
type PartnershipResolver interface {
	ResolvePartnership(ctx context.Context, principalID string) (*model.Partnership, error)
}

// Resetter はHarmony Flameのリセットを永続化する。
type Resetter interface {
	ResetHarmony(ctx context.Context, entry *model.ResetEntry) (*model.Partnership, error)
}

// Status はHarmony Flameの現在の状態を表す。
type Status struct {
	LastReset time.Time
	Days      int
}

// Service はHarmony Flameのビジネスロジックを提供する。
type Service struct {
	resolver  PartnershipResolver
	resetter  Resetter
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	location  *time.Location
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// 日数は location における暦日の差で数える。
func NewService(
	resolver PartnershipResolver,
	resetter Resetter,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	location *time.Location,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if location == nil {
		location = time.UTC
	}
	return &Service{
		resolver:  resolver,
		resetter:  resetter,
		sanitizer: sanitizer,
		metrics:   mc,
		logger:    logger,
		location:  location,
		now:       time.Now,
	}
}

// Status は閲覧者のパートナーシップのHarmony Flameを返す。
func (s *Service) Status(ctx context.Context, principalID string) (*Status, error) {
	p, err := s.partnership(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(p), nil
}

// Reset はHarmony Flameを現在時刻にリセットし、理由をリセットログに追記する。
// 理由は前後の空白を除いて10文字以上が必要。
func (s *Service) Reset(ctx context.Context, principalID, reason string) (*Status, error) {
	if s.sanitizer != nil {
		reason = s.sanitizer.SanitizeText(reason)
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		return nil, model.NewValidationError(map[string]string{
			"reason": "リセット理由は10文字以上で入力してください",
		})
	}

	p, err := s.partnership(ctx, principalID)
	if err != nil {
		return nil, err
	}

	entry := &model.ResetEntry{
		ID:            uuid.New().String(),
		PartnershipID: p.ID,
		Reason:        reason,
		ResetBy:       principalID,
		Timestamp:     s.now(),
	}
	updated, err := s.resetter.ResetHarmony(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("Harmony Flameのリセットに失敗: %w", err)
	}
	if updated == nil {
		return nil, model.NewPartnershipNotFoundError()
	}

	s.metrics.RecordHarmonyReset()
	s.logger.Info("harmony flame reset",
		slog.String("partnership_id", p.ID),
		slog.String("user_id", principalID),
	)
	return s.statusOf(updated), nil
}

func (s *Service) partnership(ctx context.Context, principalID string) (*model.Partnership, error) {
	p, err := s.resolver.ResolvePartnership(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.NewPartnershipNotFoundError()
	}
	return p, nil
}

func (s *Service) statusOf(p *model.Partnership) *Status {
	last := p.HarmonyFlame.LastReset
	return &Status{
		LastReset: last,
		Days:      schedule.HarmonyDays(last.In(s.location), s.now().In(s.location)),
	}
}
