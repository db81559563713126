// Package retention は保持期間を過ぎた通知を定期的に削除する。
//
// 削除は一括操作と同じチャンク処理を通り、ユーザー単位で行う。
// ダイジェスト待ちのエントリも一括操作側で取り除かれる。
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/bulk"
	"github.com/nao1215/notice/internal/notification/domain"
	"github.com/nao1215/notice/pkg/metrics"
	"github.com/nao1215/notice/pkg/zlog"
)

const (
	// DefaultSchedule は削除ジョブの既定のcron式。
	DefaultSchedule = "@daily"
	// pageSize は1回に取得する期限切れ通知の件数。
	pageSize = 1000
	// maxRounds は1回の実行で取得を繰り返す上限。
	maxRounds = 1000
	// runTimeout は定期実行1回の上限時間。
	runTimeout = 10 * time.Minute
)

// Store は期限切れ通知の取得に必要な操作。
type Store interface {
	ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.OwnedID, error)
}

// Deleter はユーザーの通知を一括削除する。
type Deleter interface {
	Delete(ctx context.Context, userID string, ids []string, batchSize int) bulk.Result
}

// Job は保持期間を過ぎた通知を削除する。
type Job struct {
	store   Store
	deleter Deleter
	days    int
	metrics *metrics.Metrics
	now     func() time.Time
	cron    *cron.Cron
}

// NewJob はdays日より古い通知を削除するJobを生成する。daysが0以下なら何も削除しない。
func NewJob(store Store, deleter Deleter, days int, m *metrics.Metrics) *Job {
	return &Job{store: store, deleter: deleter, days: days, metrics: m, now: time.Now}
}

// Enabled は削除が有効か返す。
func (j *Job) Enabled() bool {
	return j.days > 0
}

// RunOnce は期限切れの通知がなくなるまで削除を繰り返し、削除件数を返す。
// 1巡で1件も削除できなかった場合は残りを次回に回す。
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	if !j.Enabled() {
		return 0, nil
	}
	before := j.now().UTC().AddDate(0, 0, -j.days)

	total := 0
	for range maxRounds {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		expired, err := j.store.ListExpired(ctx, before, pageSize)
		if err != nil {
			return total, fmt.Errorf("期限切れ通知の取得に失敗: %w", err)
		}
		if len(expired) == 0 {
			return total, nil
		}

		deleted := 0
		for _, group := range groupByUser(expired) {
			r := j.deleter.Delete(ctx, group.userID, group.ids, bulk.MaxBatchSize)
			deleted += r.Succeeded
			if len(r.Failed) > 0 {
				zlog.Warn("期限切れ通知の一部を削除できませんでした",
					zap.String("user_id", group.userID), zap.Int("failed", len(r.Failed)))
			}
		}
		total += deleted
		j.metrics.RetentionDeleted(deleted)
		if deleted == 0 || len(expired) < pageSize {
			return total, nil
		}
	}
	return total, nil
}

type userIDs struct {
	userID string
	ids    []string
}

// groupByUser はユーザーIDの出現順にまとめる。
func groupByUser(rows []domain.OwnedID) []userIDs {
	var groups []userIDs
	index := map[string]int{}
	for _, r := range rows {
		i, ok := index[r.UserID]
		if !ok {
			i = len(groups)
			index[r.UserID] = i
			groups = append(groups, userIDs{userID: r.UserID})
		}
		groups[i].ids = append(groups[i].ids, r.ID)
	}
	return groups
}

// Start はscheduleのcron式で定期削除を開始する。無効な場合は何もしない。
func (j *Job) Start(schedule string) error {
	if !j.Enabled() {
		zlog.Info("保持期間が0のため通知の定期削除は無効です")
		return nil
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, j.tick); err != nil {
		return fmt.Errorf("定期削除のスケジュール登録に失敗: %w", err)
	}
	j.cron = c
	c.Start()
	zlog.Info("通知の定期削除を開始しました", zap.String("schedule", schedule), zap.Int("days", j.days))
	return nil
}

// Stop は定期削除を止め、実行中の削除の完了かctxの終了を待つ。
func (j *Job) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *Job) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	n, err := j.RunOnce(ctx)
	if err != nil {
		zlog.Error("通知の定期削除に失敗しました", zap.Int("deleted", n), zap.Error(err))
		return
	}
	zlog.Info("期限切れの通知を削除しました", zap.Int("deleted", n))
}
