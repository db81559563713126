package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/pkg/metrics"
	"github.com/nao1215/notice/pkg/zlog"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultSendTimeout = 5 * time.Second
)

type job struct {
	ctx      context.Context
	kind     string
	delivery Delivery
	digest   digest.Payload
}

// Async はDispatcherを固定数のワーカーで非同期に呼び出す。
// キューが満杯のときは送信を破棄してログに残す。呼び出し元はブロックしない。
type Async struct {
	next    Dispatcher
	workers int
	timeout time.Duration
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// AsyncOption はAsyncの設定を変更する関数。
type AsyncOption func(*Async)

// WithWorkers はワーカー数を設定する。0以下は既定値。
func WithWorkers(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithQueueSize はキューの長さを設定する。0以下は既定値。
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.jobs = make(chan job, n)
		}
	}
}

// WithSendTimeout は1件の送信に許す時間を設定する。0以下は既定値。
func WithSendTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMetrics は送信結果を記録するメトリクスを設定する。
func WithMetrics(m *metrics.Metrics) AsyncOption {
	return func(a *Async) {
		a.metrics = m
	}
}

// NewAsync はワーカーを起動したAsyncを生成する。停止はCloseで行う。
func NewAsync(next Dispatcher, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		workers: defaultWorkers,
		timeout: defaultSendTimeout,
		jobs:    make(chan job, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	for range a.workers {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

// Deliver は即時配信をキューに積む。受け付けなかった場合はfalseを返す。
func (a *Async) Deliver(ctx context.Context, d Delivery) bool {
	return a.submit(job{ctx: ctx, kind: KindDelivery, delivery: d})
}

// SendDigest はダイジェストをキューに積む。digest.Sinkを満たす。
func (a *Async) SendDigest(ctx context.Context, p digest.Payload) {
	a.submit(job{ctx: ctx, kind: KindDigest, digest: p})
}

func (a *Async) submit(j job) bool {
	// リクエストのキャンセルで送信を止めないよう値だけ引き継ぐ
	j.ctx = context.WithoutCancel(j.ctx)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(j, "停止済みのため送信を破棄しました")
		return false
	}
	select {
	case a.jobs <- j:
		return true
	default:
		a.drop(j, "送信キューが満杯のため破棄しました")
		return false
	}
}

func (a *Async) drop(j job, msg string) {
	a.metrics.DispatchDropped(j.kind)
	zlog.Warn(msg, jobFields(j)...)
}

func (a *Async) work() {
	defer a.wg.Done()
	for j := range a.jobs {
		a.run(j)
	}
}

func (a *Async) run(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, a.timeout)
	defer cancel()

	var err error
	switch j.kind {
	case KindDigest:
		err = a.next.SendDigest(ctx, j.digest)
	default:
		err = a.next.Send(ctx, j.delivery)
	}
	a.metrics.DispatchResult(j.kind, err)
	if err == nil {
		return
	}

	var te *TransportError
	if !errors.As(err, &te) {
		te = transportError(j, err)
	}
	zlog.Error("トランスポートへの送信に失敗しました", append(jobFields(j), zap.Error(te))...)
}

// Close は新規の受け付けを止め、キューに残った送信の完了かctxの終了を待つ。
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func transportError(j job, err error) *TransportError {
	if j.kind == KindDigest {
		return digestError(j.digest, err)
	}
	return deliveryError(j.delivery, err)
}

func jobFields(j job) []zap.Field {
	if j.kind == KindDigest {
		return []zap.Field{
			zap.String("kind", j.kind),
			zap.String("channel", j.digest.Channel),
			zap.String("user_id", j.digest.UserID),
			zap.String("digest_id", j.digest.ID),
			zap.Strings("notification_ids", j.digest.NotificationIDs),
		}
	}
	return []zap.Field{
		zap.String("kind", j.kind),
		zap.String("channel", j.delivery.Channel),
		zap.String("user_id", j.delivery.UserID),
		zap.String("notification_id", j.delivery.NotificationID),
	}
}
