package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nao1215/notice/pkg/metrics"
	"github.com/nao1215/notice/pkg/zlog"
)

// DefaultSchedule はフラッシュ間隔の既定値。
const DefaultSchedule = "@every 1m"

// flushTimeout は定期フラッシュ1回あたりの上限時間。
const flushTimeout = 30 * time.Second

// Scheduler はダイジェストエントリの蓄積と定期フラッシュを行う。
type Scheduler struct {
	store   Store
	sink    Sink
	metrics *metrics.Metrics
	now     func() time.Time
	cron    *cron.Cron
}

// NewScheduler はSchedulerを生成する。metricsはnilでもよい。
func NewScheduler(store Store, sink Sink, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		store:   store,
		sink:    sink,
		metrics: m,
		now:     time.Now,
	}
}

// Enqueue はエントリをバケットに追加する。EnqueuedAtが未設定なら現在時刻を入れる。
func (s *Scheduler) Enqueue(ctx context.Context, e Entry) error {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = s.now().UTC()
	}
	if err := s.store.Enqueue(ctx, e); err != nil {
		return err
	}
	s.metrics.DigestEnqueued(e.Channel)
	return nil
}

// Remove は削除された通知をダイジェスト待ちから取り除く。
func (s *Scheduler) Remove(ctx context.Context, userID string, notificationIDs []string) error {
	return s.store.Remove(ctx, userID, notificationIDs)
}

// Flush は期限に達した全バケットをペイロードにまとめてSinkに渡す。
// 空のバケットからはペイロードを作らない。バケット単位の失敗は他のバケットの処理を止めない。
func (s *Scheduler) Flush(ctx context.Context) ([]Payload, error) {
	now := s.now().UTC()
	keys, err := s.store.Due(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("フラッシュ対象の取得に失敗: %w", err)
	}

	var payloads []Payload
	var errs []error
	for _, key := range keys {
		entries, err := s.store.Drain(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(entries) == 0 {
			continue
		}

		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		})
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.NotificationID
		}
		p := Payload{
			ID:              ulid.Make().String(),
			UserID:          key.UserID,
			Channel:         key.Channel,
			NotificationIDs: ids,
			FlushedAt:       now,
		}
		s.sink.SendDigest(ctx, p)
		s.metrics.DigestFlushed(key.Channel)
		payloads = append(payloads, p)
	}
	return payloads, errors.Join(errs...)
}

// Start はscheduleのcron式で定期フラッシュを開始する。
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return fmt.Errorf("ダイジェストのスケジュール登録に失敗: %w", err)
	}
	s.cron = c
	c.Start()
	zlog.Info("ダイジェストスケジューラを開始しました", zap.String("schedule", schedule))
	return nil
}

// Stop は定期フラッシュを止め、実行中のフラッシュの完了かctxの終了を待つ。
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	payloads, err := s.Flush(ctx)
	if err != nil {
		zlog.Error("ダイジェストのフラッシュに失敗しました", zap.Error(err))
	}
	if len(payloads) > 0 {
		zlog.Info("ダイジェストをフラッシュしました", zap.Int("payloads", len(payloads)))
	}
}
