// Package delivery は保存済みの通知を通知設定と配信判定に通し、
// 即時配信はトランスポートへ、ダイジェスト待ちはスケジューラへ振り分ける。
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/internal/notification/dispatch"
	"github.com/nao1215/notice/internal/notification/domain"
	"github.com/nao1215/notice/internal/notification/gate"
	"github.com/nao1215/notice/internal/notification/preference"
	"github.com/nao1215/notice/pkg/metrics"
	"github.com/nao1215/notice/pkg/zlog"
)

// Store は通知の保存先。
type Store interface {
	CreateNotification(ctx context.Context, n domain.Notification) error
}

// Resolver は配信判定に使う通知設定を返す。
type Resolver interface {
	Resolve(ctx context.Context, userID string) domain.Preference
}

// Enqueuer はダイジェスト待ちのエントリを受け取る。
type Enqueuer interface {
	Enqueue(ctx context.Context, e digest.Entry) error
}

// Deliverer は即時配信を受け取る。呼び出しをブロックしないこと。
type Deliverer interface {
	Deliver(ctx context.Context, d dispatch.Delivery) bool
}

// Request は上流のプロデューサーから受け取る通知。
type Request struct {
	UserID  string  `json:"user_id" validate:"required,max=128"`
	Type    string  `json:"type" validate:"required,max=64"`
	Message string  `json:"message" validate:"required,max=4000"`
	Link    *string `json:"link" validate:"omitempty,max=2048"`
}

// Result は保存した通知と配信判定。
type Result struct {
	Notification domain.Notification `json:"notification"`
	Decision     gate.Decision       `json:"decision"`
}

// Service は通知の受け付けと配信の振り分けを行う。
type Service struct {
	store      Store
	prefs      Resolver
	digests    Enqueuer
	dispatcher Deliverer
	metrics    *metrics.Metrics
	validate   *validator.Validate
	now        func() time.Time
	newID      func() string
}

// NewService はServiceを生成する。mはnilでもよい。
func NewService(store Store, prefs Resolver, digests Enqueuer, dispatcher Deliverer, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		prefs:      prefs,
		digests:    digests,
		dispatcher: dispatcher,
		metrics:    m,
		validate:   preference.NewValidator(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Submit は通知を検証して保存し、配信判定に通す。
// 配信の失敗は保存済みの通知に影響しない。
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Type = strings.TrimSpace(req.Type)
	if req.Link != nil && strings.TrimSpace(*req.Link) == "" {
		req.Link = nil
	}
	if err := s.validate.Struct(req); err != nil {
		return Result{}, preference.ToValidationError(err)
	}

	n := domain.Notification{
		ID:        s.newID(),
		UserID:    req.UserID,
		Type:      req.Type,
		Message:   req.Message,
		Link:      req.Link,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return Result{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return Result{Notification: n, Decision: s.Deliver(ctx, n)}, nil
}

// Deliver は通知をユーザーの設定で判定し、チャネルごとに振り分ける。
func (s *Service) Deliver(ctx context.Context, n domain.Notification) gate.Decision {
	now := s.now().UTC()
	decision := gate.Decide(n, s.prefs.Resolve(ctx, n.UserID), now)

	for _, c := range decision.Channels {
		s.metrics.GateDecision(c.Channel, string(c.Outcome))
		switch c.Outcome {
		case gate.OutcomeDeliverNow:
			s.dispatcher.Deliver(ctx, dispatch.Delivery{
				NotificationID: n.ID,
				UserID:         n.UserID,
				Channel:        c.Channel,
				Type:           n.Type,
				Message:        n.Message,
				Link:           n.Link,
			})
		case gate.OutcomeEnqueue:
			err := s.digests.Enqueue(ctx, digest.Entry{
				UserID:         n.UserID,
				Channel:        c.Channel,
				NotificationID: n.ID,
				EnqueuedAt:     now,
				Until:          *c.Until,
			})
			if err != nil {
				zlog.Error("ダイジェストへの追加に失敗しました",
					zap.String("channel", c.Channel),
					zap.String("user_id", n.UserID),
					zap.String("notification_id", n.ID),
					zap.Error(err),
				)
			}
		case gate.OutcomeSuppress:
			zlog.Debug("配信を抑止しました",
				zap.String("channel", c.Channel),
				zap.String("user_id", n.UserID),
				zap.String("notification_id", n.ID),
				zap.String("reason", c.Reason),
			)
		}
	}
	return decision
}
