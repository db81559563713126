package domain

import (
	"slices"
	"time"
)

// 配信頻度。
const (
	FrequencyImmediate = "immediate"
	FrequencyHourly    = "hourly"
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
)

// DefaultTimezone はタイムゾーン未設定時の基準。
const DefaultTimezone = "UTC"

// Preference はユーザーごとの通知設定。ユーザーにつき1件。
type Preference struct {
	UserID string `json:"user_id"`

	EmailEnabled bool     `json:"email_enabled"`
	EmailTypes   []string `json:"email_types"`
	PushEnabled  bool     `json:"push_enabled"`
	PushTypes    []string `json:"push_types"`
	InAppEnabled bool     `json:"in_app_enabled"`
	InAppTypes   []string `json:"in_app_types"`

	EmailFrequency string `json:"email_frequency"`
	DigestEnabled  bool   `json:"digest_enabled"`

	QuietHoursEnabled bool    `json:"quiet_hours_enabled"`
	QuietHoursStart   *string `json:"quiet_hours_start"`
	QuietHoursEnd     *string `json:"quiet_hours_end"`
	// QuietStartMinute とQuietEndMinute はSetQuietHoursで解析済みの値。判定時はこちらを使う。
	QuietStartMinute *int `json:"-"`
	QuietEndMinute   *int `json:"-"`

	MarketingEnabled   bool `json:"marketing_enabled"`
	PromotionalEnabled bool `json:"promotional_enabled"`

	// Timezone は静穏時間と頻度境界を評価するIANAタイムゾーン名。
	Timezone string `json:"timezone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreference は設定レコードがないユーザーに適用する既定の設定を返す。
func DefaultPreference(userID string) Preference {
	return Preference{
		UserID:         userID,
		EmailEnabled:   true,
		EmailTypes:     []string{"welcome", "security", "system"},
		PushEnabled:    true,
		PushTypes:      []string{"urgent", "mentions", "system"},
		InAppEnabled:   true,
		InAppTypes:     []string{TypeAll},
		EmailFrequency: FrequencyImmediate,
		Timezone:       DefaultTimezone,
	}
}

// Enabled はチャネルが有効か返す。未知のチャネルはfalse。
func (p *Preference) Enabled(channel string) bool {
	switch channel {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelPush:
		return p.PushEnabled
	case ChannelInApp:
		return p.InAppEnabled
	}
	return false
}

// Types はチャネルの許可種別リストを返す。
func (p *Preference) Types(channel string) []string {
	switch channel {
	case ChannelEmail:
		return p.EmailTypes
	case ChannelPush:
		return p.PushTypes
	case ChannelInApp:
		return p.InAppTypes
	}
	return nil
}

// Allows はチャネルの種別リストがtypを許可するか返す。
// "all" はアプリ内チャネルでのみ全種別許可として扱う。
func (p *Preference) Allows(channel, typ string) bool {
	types := p.Types(channel)
	if channel == ChannelInApp && slices.Contains(types, TypeAll) {
		return true
	}
	return slices.Contains(types, typ)
}

// OptedIn はマーケティング系種別のオプトインを判定する。それ以外の種別は常にtrue。
func (p *Preference) OptedIn(typ string) bool {
	switch typ {
	case TypeMarketing:
		return p.MarketingEnabled
	case TypePromotional:
		return p.PromotionalEnabled
	}
	return true
}

// SetQuietHours は静穏時間の開始・終了を設定し、解析済みの分を更新する。
// nilは未設定を表す。不正な形式ならValidationErrorを返し、設定は変更しない。
func (p *Preference) SetQuietHours(start, end *string) error {
	startMin, err := parseOptionalClock("quiet_hours_start", start)
	if err != nil {
		return err
	}
	endMin, err := parseOptionalClock("quiet_hours_end", end)
	if err != nil {
		return err
	}
	p.QuietHoursStart, p.QuietHoursEnd = start, end
	p.QuietStartMinute, p.QuietEndMinute = startMin, endMin
	return nil
}

// QuietWindow は解析済みの静穏時間を返す。無効または未設定ならokはfalse。
func (p *Preference) QuietWindow() (start, end int, ok bool) {
	if !p.QuietHoursEnabled || p.QuietStartMinute == nil || p.QuietEndMinute == nil {
		return 0, 0, false
	}
	return *p.QuietStartMinute, *p.QuietEndMinute, true
}

// Validate はレコード全体の不変条件を検証する。
func (p *Preference) Validate() error {
	if p.QuietHoursEnabled && (p.QuietHoursStart == nil) != (p.QuietHoursEnd == nil) {
		return Invalid("quiet_hours", "開始と終了は両方指定するか両方省略する必要があります")
	}
	switch p.EmailFrequency {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
	default:
		return Invalid("email_frequency", "不明な頻度です: %q", p.EmailFrequency)
	}
	return nil
}

func parseOptionalClock(field string, s *string) (*int, error) {
	if s == nil {
		return nil, nil
	}
	m, err := ParseClock(*s)
	if err != nil {
		return nil, Invalid(field, "%s", err.Error())
	}
	return &m, nil
}
