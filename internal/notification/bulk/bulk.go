// Package bulk は既読化・未読化・削除の一括操作をチャンク単位で実行する。
//
// チャンクは順番に1つずつ処理する。失敗したチャンクのIDはFailedに記録して
// 残りのチャンクの処理を続ける。部分的な失敗はエラーではなくResultで表す。
package bulk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/domain"
	"github.com/nao1215/notice/pkg/metrics"
	"github.com/nao1215/notice/pkg/zlog"
)

// チャンクサイズの既定値と範囲。
const (
	DefaultBatchSize = 100
	MinBatchSize     = 10
	MaxBatchSize     = 500
)

// 操作名。メトリクスとログのラベルに使う。
const (
	OpMarkRead   = "mark_read"
	OpMarkUnread = "mark_unread"
	OpDelete     = "delete"
)

// Result は一括操作の結果。Failedは常に非nil。
type Result struct {
	Succeeded int      `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// Store は一括操作に必要な操作。バッチ系は実際に更新したIDを返す。
type Store interface {
	SetReadBatch(ctx context.Context, userID string, ids []string, read bool) ([]string, error)
	DeleteBatch(ctx context.Context, userID string, ids []string) ([]string, error)
	ListIDs(ctx context.Context, userID string, sel domain.Selector) ([]string, error)
}

// Remover は削除された通知を他の保存先から取り除く。ダイジェストの後始末に使う。
type Remover interface {
	Remove(ctx context.Context, userID string, notificationIDs []string) error
}

// Option はEngineの設定を変更する。
type Option func(*Engine)

// WithRemover は削除後に呼び出すRemoverを設定する。
func WithRemover(r Remover) Option {
	return func(e *Engine) { e.remover = r }
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine は一括操作を実行する。
type Engine struct {
	store   Store
	remover Remover
	metrics *metrics.Metrics
}

// NewEngine はEngineを生成する。
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClampBatchSize はチャンクサイズを[MinBatchSize, MaxBatchSize]に丸める。0以下は既定値。
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n < MinBatchSize:
		return MinBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	}
	return n
}

// MarkRead はidsを既読にする。
func (e *Engine) MarkRead(ctx context.Context, userID string, ids []string, batchSize int) Result {
	return e.run(ctx, OpMarkRead, userID, ids, batchSize, e.setRead(true))
}

// MarkUnread はidsを未読にする。
func (e *Engine) MarkUnread(ctx context.Context, userID string, ids []string, batchSize int) Result {
	return e.run(ctx, OpMarkUnread, userID, ids, batchSize, e.setRead(false))
}

// Delete はidsを削除する。
func (e *Engine) Delete(ctx context.Context, userID string, ids []string, batchSize int) Result {
	return e.run(ctx, OpDelete, userID, ids, batchSize, e.delete)
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。
func (e *Engine) MarkAllRead(ctx context.Context, userID string) (Result, error) {
	unread := false
	ids, err := e.store.ListIDs(ctx, userID, domain.Selector{Read: &unread})
	if err != nil {
		return Result{}, err
	}
	return e.MarkRead(ctx, userID, ids, MaxBatchSize), nil
}

// DeleteAll はユーザーの通知をすべて削除する。
func (e *Engine) DeleteAll(ctx context.Context, userID string) (Result, error) {
	return e.deleteWhere(ctx, userID, domain.Selector{})
}

// DeleteRead はユーザーの既読通知をすべて削除する。
func (e *Engine) DeleteRead(ctx context.Context, userID string) (Result, error) {
	read := true
	return e.deleteWhere(ctx, userID, domain.Selector{Read: &read})
}

// DeleteByType はユーザーの指定種別の通知をすべて削除する。
func (e *Engine) DeleteByType(ctx context.Context, userID, typ string) (Result, error) {
	if typ == "" {
		return Result{}, domain.Invalid("type", "種別を指定してください")
	}
	return e.deleteWhere(ctx, userID, domain.Selector{Type: typ})
}

// DeleteOlderThan はbeforeより前に作成されたユーザーの通知をすべて削除する。
func (e *Engine) DeleteOlderThan(ctx context.Context, userID string, before time.Time) (Result, error) {
	return e.deleteWhere(ctx, userID, domain.Selector{CreatedBefore: &before})
}

func (e *Engine) deleteWhere(ctx context.Context, userID string, sel domain.Selector) (Result, error) {
	ids, err := e.store.ListIDs(ctx, userID, sel)
	if err != nil {
		return Result{}, err
	}
	return e.Delete(ctx, userID, ids, MaxBatchSize), nil
}

type chunkFunc func(ctx context.Context, userID string, ids []string) ([]string, error)

func (e *Engine) setRead(read bool) chunkFunc {
	return func(ctx context.Context, userID string, ids []string) ([]string, error) {
		return e.store.SetReadBatch(ctx, userID, ids, read)
	}
}

func (e *Engine) delete(ctx context.Context, userID string, ids []string) ([]string, error) {
	deleted, err := e.store.DeleteBatch(ctx, userID, ids)
	if err != nil || len(deleted) == 0 || e.remover == nil {
		return deleted, err
	}
	if rerr := e.remover.Remove(ctx, userID, deleted); rerr != nil {
		zlog.Warn("削除した通知のダイジェストからの除去に失敗しました",
			zap.String("user_id", userID), zap.Int("count", len(deleted)), zap.Error(rerr))
	}
	return deleted, nil
}

// run はidsの重複を除いてチャンクに分け、順番に処理する。
// ストアが返さなかったIDと、失敗したチャンクのIDはFailedに入る。
// ctxが終了した後のチャンクは実行せずFailedに入れる。
func (e *Engine) run(ctx context.Context, op, userID string, ids []string, batchSize int, fn chunkFunc) Result {
	ids = dedupe(ids)
	size := ClampBatchSize(batchSize)
	res := Result{Failed: []string{}}

	for start := 0; start < len(ids); start += size {
		chunk := ids[start:min(start+size, len(ids))]

		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, ids[start:]...)
			zlog.Warn("一括操作を中断しました",
				zap.String("operation", op), zap.String("user_id", userID),
				zap.Int("remaining", len(ids)-start), zap.Error(err))
			break
		}

		affected, err := fn(ctx, userID, chunk)
		if err != nil {
			res.Failed = append(res.Failed, chunk...)
			zlog.Warn("一括操作のチャンクが失敗しました",
				zap.String("operation", op), zap.String("user_id", userID),
				zap.Int("chunk_size", len(chunk)), zap.Error(err))
			continue
		}

		done := make(map[string]struct{}, len(affected))
		for _, id := range affected {
			done[id] = struct{}{}
		}
		for _, id := range chunk {
			if _, ok := done[id]; ok {
				res.Succeeded++
			} else {
				res.Failed = append(res.Failed, id)
			}
		}
	}

	e.metrics.BulkProcessed(op, res.Succeeded, len(res.Failed))
	return res
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
