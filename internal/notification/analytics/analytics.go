// Package analytics はユーザーの通知から件数の集計を作る。
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/notice/internal/notification/domain"
)

// 集計期間（日数）の既定値と範囲。
const (
	DefaultDays = 30
	MaxDays     = 365
)

// DayCount は1日分の件数。DateはUTCのYYYY-MM-DD。
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Report は集計結果。通知がない場合もゼロ埋めした構造を返す。
type Report struct {
	Days   int            `json:"days"`
	Since  time.Time      `json:"since"`
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
	ByType map[string]int `json:"by_type"`
	// ByDay はSinceの日付から今日までの古い順。
	ByDay []DayCount `json:"by_day"`
}

// Store は集計に必要な操作。
type Store interface {
	Aggregate(ctx context.Context, userID string, since time.Time) (domain.Aggregate, error)
}

// Aggregator は集計を行う。
type Aggregator struct {
	store Store
	now   func() time.Time
}

// NewAggregator はAggregatorを生成する。
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// ClampDays は日数を[1, MaxDays]に丸める。0以下は既定値。
func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

// Stats は直近days日間に作成された通知を集計する。
func (a *Aggregator) Stats(ctx context.Context, userID string, days int) (Report, error) {
	days = ClampDays(days)
	now := a.now().UTC()
	since := now.AddDate(0, 0, -days)

	agg, err := a.store.Aggregate(ctx, userID, since)
	if err != nil {
		return Report{}, fmt.Errorf("通知の集計に失敗: %w", err)
	}

	r := Report{
		Days:   days,
		Since:  since,
		Total:  agg.Total,
		Unread: agg.Unread,
		ByType: agg.ByType,
	}
	if r.ByType == nil {
		r.ByType = map[string]int{}
	}

	day := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	for !day.After(now) {
		key := day.Format(time.DateOnly)
		r.ByDay = append(r.ByDay, DayCount{Date: key, Count: agg.ByDay[key]})
		day = day.AddDate(0, 0, 1)
	}
	return r, nil
}
