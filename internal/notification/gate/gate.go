// Package gate は通知をいつ、どのチャネルで配信するかを判定する。
//
// Decideは副作用を持たない純粋関数で、チャネルごとに独立して
// 即時配信・ダイジェスト待ち・抑止のいずれかを返す。
package gate

import (
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/nao1215/notice/internal/notification/domain"
)

// Outcome はチャネル単位の判定結果。
type Outcome string

const (
	// OutcomeDeliverNow は即時配信。
	OutcomeDeliverNow Outcome = "deliver_now"
	// OutcomeEnqueue はUntilまでダイジェストに積む。
	OutcomeEnqueue Outcome = "enqueue"
	// OutcomeSuppress は配信しない。
	OutcomeSuppress Outcome = "suppress"
)

// 判定理由。
const (
	ReasonDigest     = "digest"
	ReasonQuietHours = "quiet_hours"
)

// ChannelDecision は1チャネルの判定。
type ChannelDecision struct {
	Channel string     `json:"channel"`
	Outcome Outcome    `json:"outcome"`
	Until   *time.Time `json:"until,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Decision はチャネル別判定の集合。対象外のチャネルは含まない。
type Decision struct {
	Channels []ChannelDecision `json:"channels"`
}

// DeliverNow は即時配信するチャネルを返す。
func (d Decision) DeliverNow() []string {
	var out []string
	for _, c := range d.Channels {
		if c.Outcome == OutcomeDeliverNow {
			out = append(out, c.Channel)
		}
	}
	return out
}

// Enqueued はダイジェストに積むチャネルの判定を返す。
func (d Decision) Enqueued() []ChannelDecision {
	var out []ChannelDecision
	for _, c := range d.Channels {
		if c.Outcome == OutcomeEnqueue {
			out = append(out, c)
		}
	}
	return out
}

// Suppressed は抑止されたチャネルを返す。
func (d Decision) Suppressed() []string {
	var out []string
	for _, c := range d.Channels {
		if c.Outcome == OutcomeSuppress {
			out = append(out, c.Channel)
		}
	}
	return out
}

// Decide は通知設定と現在時刻から各チャネルの配信方法を判定する。
// pは解決済みの設定（レコードがない場合は既定値）であること。
func Decide(n domain.Notification, p domain.Preference, now time.Time) Decision {
	loc := Location(p.Timezone)
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	quietStart, quietEnd, hasQuiet := p.QuietWindow()
	inQuiet := hasQuiet && InQuietWindow(quietStart, quietEnd, minute)

	d := Decision{Channels: make([]ChannelDecision, 0, len(domain.Channels))}
	for _, ch := range domain.Channels {
		if !p.Enabled(ch) || !p.Allows(ch, n.Type) || !p.OptedIn(n.Type) {
			continue
		}

		if ch == domain.ChannelEmail && p.DigestEnabled && p.EmailFrequency != domain.FrequencyImmediate {
			until := NextBoundary(p.EmailFrequency, local)
			d.Channels = append(d.Channels, ChannelDecision{
				Channel: ch, Outcome: OutcomeEnqueue, Until: &until, Reason: ReasonDigest,
			})
			continue
		}

		if inQuiet && ch != domain.ChannelInApp {
			if p.DigestEnabled {
				until := nextClock(local, quietEnd)
				d.Channels = append(d.Channels, ChannelDecision{
					Channel: ch, Outcome: OutcomeEnqueue, Until: &until, Reason: ReasonQuietHours,
				})
			} else {
				d.Channels = append(d.Channels, ChannelDecision{
					Channel: ch, Outcome: OutcomeSuppress, Reason: ReasonQuietHours,
				})
			}
			continue
		}

		d.Channels = append(d.Channels, ChannelDecision{Channel: ch, Outcome: OutcomeDeliverNow})
	}
	return d
}

// InQuietWindow はminuteが[start, end)に含まれるか判定する。
// start > end の場合は0時をまたぐ。start == end は空の区間として扱う。
func InQuietWindow(start, end, minute int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}

// NextBoundary はlocalのタイムゾーンで、localより後の最初の頻度境界を返す。
// hourlyは次の正時、dailyは翌日0時、weeklyは次の月曜0時。immediateはlocalをそのまま返す。
func NextBoundary(frequency string, local time.Time) time.Time {
	y, m, d := local.Date()
	loc := local.Location()
	switch frequency {
	case domain.FrequencyHourly:
		return time.Date(y, m, d, local.Hour()+1, 0, 0, 0, loc)
	case domain.FrequencyDaily:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	case domain.FrequencyWeekly:
		days := (8 - int(local.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return time.Date(y, m, d+days, 0, 0, 0, 0, loc)
	}
	return local
}

// nextClock はlocalより後で最初に時刻minuteになる日時を返す。
func nextClock(local time.Time, minute int) time.Time {
	y, m, d := local.Date()
	t := time.Date(y, m, d, minute/60, minute%60, 0, 0, local.Location())
	if !t.After(local) {
		t = time.Date(y, m, d+1, minute/60, minute%60, 0, 0, local.Location())
	}
	return t
}

var locations sync.Map

// Location はIANAタイムゾーン名を解決する。空または不明な名前はUTCになる。
func Location(name string) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}
