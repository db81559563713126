// Package dispatch は配信判定を通過した通知とフラッシュされたダイジェストを
// 外部トランスポートへ引き渡す。
//
// 実際の送信（メール、プッシュ）は外部サービスの責務で、このパッケージは
// HTTP、Kafka、ログのいずれかに配信イベントを書き出すところまでを扱う。
// 送信の失敗は呼び出し元に返さず、Asyncがログに記録する。
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/pkg/event"
)

// 送信の種類。メトリクスのラベルにも使う。
const (
	KindDelivery = "delivery"
	KindDigest   = "digest"
)

// Delivery は1チャネルへの即時配信1件。
type Delivery struct {
	NotificationID string
	UserID         string
	Channel        string
	Type           string
	Message        string
	Link           *string
}

// Dispatcher はトランスポートへの送信を行う。
type Dispatcher interface {
	Send(ctx context.Context, d Delivery) error
	SendDigest(ctx context.Context, p digest.Payload) error
}

// TransportError はトランスポートへの送信失敗。
type TransportError struct {
	Kind           string
	Channel        string
	UserID         string
	NotificationID string
	Err            error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%sの送信に失敗 (channel=%s, user_id=%s, notification_id=%s): %v",
		e.Kind, e.Channel, e.UserID, e.NotificationID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func deliveryError(d Delivery, err error) *TransportError {
	return &TransportError{Kind: KindDelivery, Channel: d.Channel, UserID: d.UserID, NotificationID: d.NotificationID, Err: err}
}

// digestError のNotificationIDはダイジェストに含まれる通知IDのカンマ区切り。
func digestError(p digest.Payload, err error) *TransportError {
	return &TransportError{Kind: KindDigest, Channel: p.Channel, UserID: p.UserID, NotificationID: strings.Join(p.NotificationIDs, ","), Err: err}
}

func deliveryEvent(d Delivery) (*event.Event, error) {
	return event.New(d.UserID, event.TypeDeliveryRequested, event.DeliveryRequestedData{
		NotificationID: d.NotificationID,
		Channel:        d.Channel,
		Type:           d.Type,
		Message:        d.Message,
		Link:           d.Link,
	})
}

func digestEvent(p digest.Payload) (*event.Event, error) {
	return event.New(p.UserID, event.TypeDigestReady, event.DigestReadyData{
		DigestID:        p.ID,
		Channel:         p.Channel,
		NotificationIDs: p.NotificationIDs,
		FlushedAt:       p.FlushedAt,
	})
}
