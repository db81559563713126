// Package preference はユーザーごとの通知設定を解決・更新する。
//
// 設定レコードがないユーザーには既定値を遅延作成して返す。
package preference

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/domain"
	"github.com/nao1215/notice/pkg/zlog"
)

// Store は通知設定の永続化に必要な操作。
type Store interface {
	GetPreference(ctx context.Context, userID string) (domain.Preference, error)
	CreatePreferenceIfAbsent(ctx context.Context, p domain.Preference) error
	UpdatePreference(ctx context.Context, p domain.Preference, prevUpdatedAt time.Time) (bool, error)
	DeletePreference(ctx context.Context, userID string) error
}

// Patch は部分更新の入力。nilのフィールドは変更しない。
// QuietHoursStart とQuietHoursEnd は空文字列で未設定に戻す。
type Patch struct {
	EmailEnabled *bool    `json:"email_enabled"`
	EmailTypes   []string `json:"email_types" validate:"omitempty,max=50,dive,required,max=64"`
	PushEnabled  *bool    `json:"push_enabled"`
	PushTypes    []string `json:"push_types" validate:"omitempty,max=50,dive,required,max=64"`
	InAppEnabled *bool    `json:"in_app_enabled"`
	InAppTypes   []string `json:"in_app_types" validate:"omitempty,max=50,dive,required,max=64"`

	EmailFrequency *string `json:"email_frequency" validate:"omitempty,oneof=immediate hourly daily weekly"`
	DigestEnabled  *bool   `json:"digest_enabled"`

	QuietHoursEnabled *bool   `json:"quiet_hours_enabled"`
	QuietHoursStart   *string `json:"quiet_hours_start" validate:"omitempty,hhmm"`
	QuietHoursEnd     *string `json:"quiet_hours_end" validate:"omitempty,hhmm"`

	MarketingEnabled   *bool `json:"marketing_enabled"`
	PromotionalEnabled *bool `json:"promotional_enabled"`

	Timezone *string `json:"timezone" validate:"omitempty,timezone"`
}

// maxUpdateAttempts は同時更新と競合したときに読み直して再適用する回数の上限。
const maxUpdateAttempts = 5

// Service は通知設定の取得・更新・削除を行う。
type Service struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		validate: NewValidator(),
		now:      time.Now,
	}
}

// NewValidator はJSONタグ名でエラーを報告し、hhmmタグを登録したバリデータを返す。
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := domain.ParseClock(s)
		return err == nil
	})
	return v
}

// Get はユーザーの通知設定を返す。レコードがなければ既定値で作成して返す。
func (s *Service) Get(ctx context.Context, userID string) (domain.Preference, error) {
	p, err := s.store.GetPreference(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Preference{}, fmt.Errorf("通知設定の取得に失敗: %w", err)
	}

	def := domain.DefaultPreference(userID)
	now := s.now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now
	if err := s.store.CreatePreferenceIfAbsent(ctx, def); err != nil {
		return domain.Preference{}, fmt.Errorf("既定の通知設定の作成に失敗: %w", err)
	}
	// 同時に作成された場合は先に保存された方を返す
	p, err = s.store.GetPreference(ctx, userID)
	if err != nil {
		return domain.Preference{}, fmt.Errorf("通知設定の取得に失敗: %w", err)
	}
	return p, nil
}

// Resolve は配信判定用に通知設定を返す。ストアの障害時も既定値で処理を続行する。
func (s *Service) Resolve(ctx context.Context, userID string) domain.Preference {
	p, err := s.Get(ctx, userID)
	if err != nil {
		zlog.Warn("通知設定を解決できないため既定値を使用します",
			zap.String("user_id", userID), zap.Error(err))
		return domain.DefaultPreference(userID)
	}
	return p
}

// Upsert は部分更新を検証して現在の設定に適用し、保存後の設定を返す。
// 保存はupdated_atによる楽観ロックで行い、他の更新が先に保存されていれば読み直して適用し直す。
func (s *Service) Upsert(ctx context.Context, userID string, patch Patch) (domain.Preference, error) {
	if err := s.validate.Struct(patch); err != nil {
		return domain.Preference{}, ToValidationError(err)
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := s.Get(ctx, userID)
		if err != nil {
			return domain.Preference{}, err
		}
		next, err := apply(current, patch)
		if err != nil {
			return domain.Preference{}, err
		}
		next.UpdatedAt = s.nextUpdatedAt(current.UpdatedAt)

		ok, err := s.store.UpdatePreference(ctx, next, current.UpdatedAt)
		if err != nil {
			return domain.Preference{}, fmt.Errorf("通知設定の保存に失敗: %w", err)
		}
		if ok {
			return next, nil
		}
		zlog.Debug("通知設定の更新が競合したため読み直します",
			zap.String("user_id", userID), zap.Int("attempt", attempt))
	}
	return domain.Preference{}, fmt.Errorf("通知設定の保存に失敗: %w", domain.ErrConflict)
}

// nextUpdatedAt は直前の値より必ず後になる更新日時を返す。
func (s *Service) nextUpdatedAt(prev time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

// Delete はユーザーの通知設定を削除する。以後のGetは既定値を返す。
func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.store.DeletePreference(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("通知設定の削除に失敗: %w", err)
	}
	return nil
}

func apply(p domain.Preference, patch Patch) (domain.Preference, error) {
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setBool(&p.EmailEnabled, patch.EmailEnabled)
	setBool(&p.PushEnabled, patch.PushEnabled)
	setBool(&p.InAppEnabled, patch.InAppEnabled)
	setBool(&p.DigestEnabled, patch.DigestEnabled)
	setBool(&p.QuietHoursEnabled, patch.QuietHoursEnabled)
	setBool(&p.MarketingEnabled, patch.MarketingEnabled)
	setBool(&p.PromotionalEnabled, patch.PromotionalEnabled)

	if patch.EmailTypes != nil {
		p.EmailTypes = dedupe(patch.EmailTypes)
	}
	if patch.PushTypes != nil {
		p.PushTypes = dedupe(patch.PushTypes)
	}
	if patch.InAppTypes != nil {
		p.InAppTypes = dedupe(patch.InAppTypes)
	}
	if patch.EmailFrequency != nil {
		p.EmailFrequency = *patch.EmailFrequency
	}
	if patch.Timezone != nil {
		p.Timezone = *patch.Timezone
	}

	start, end := mergeClock(p.QuietHoursStart, patch.QuietHoursStart), mergeClock(p.QuietHoursEnd, patch.QuietHoursEnd)
	if err := p.SetQuietHours(start, end); err != nil {
		return domain.Preference{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.Preference{}, err
	}
	return p, nil
}

func mergeClock(current, patch *string) *string {
	switch {
	case patch == nil:
		return current
	case *patch == "":
		return nil
	default:
		v := *patch
		return &v
	}
}

func dedupe(types []string) []string {
	seen := make(map[string]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ToValidationError はバリデータのエラーを最初のフィールドのValidationErrorに変換する。
func ToValidationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	fe := ves[0]
	field := fe.Field()
	switch fe.Tag() {
	case "oneof":
		return domain.Invalid(field, "%s のいずれかを指定してください", fe.Param())
	case "hhmm":
		return domain.Invalid(field, "HH:mm形式（00:00〜23:59）で指定してください")
	case "timezone":
		return domain.Invalid(field, "IANAタイムゾーン名を指定してください")
	case "max":
		return domain.Invalid(field, "%s 以下で指定してください", fe.Param())
	case "required":
		return domain.Invalid(field, "空の値は指定できません")
	}
	return domain.Invalid(field, "値が不正です（%s）", fe.Tag())
}
