package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/pkg/event"
)

// headerEventType はメッセージヘッダーに載せるイベント種別のキー。
const headerEventType = "event_type"

// Kafka は配信イベントをKafkaトピックに書き込む。キーはユーザーIDで、
// 同一ユーザーのイベントは同じパーティションに並ぶ。
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka はbrokersに接続するKafkaを生成する。
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("ブローカーが指定されていません")
	}

	sc := sarama.NewConfig()
	sc.ClientID = "notice"
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("プロデューサーの生成に失敗: %w", err)
	}
	return NewKafkaWithProducer(p, topic), nil
}

// NewKafkaWithProducer は既存のプロデューサーを使うKafkaを生成する。
func NewKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

// Send はDeliveryRequestedイベントを書き込む。
func (k *Kafka) Send(ctx context.Context, d Delivery) error {
	ev, err := deliveryEvent(d)
	if err != nil {
		return err
	}
	if err := k.publish(ctx, ev); err != nil {
		return deliveryError(d, err)
	}
	return nil
}

// SendDigest はDigestReadyイベントを書き込む。
func (k *Kafka) SendDigest(ctx context.Context, p digest.Payload) error {
	ev, err := digestEvent(p)
	if err != nil {
		return err
	}
	if err := k.publish(ctx, ev); err != nil {
		return digestError(p, err)
	}
	return nil
}

func (k *Kafka) publish(ctx context.Context, ev *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := ev.Encode()
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.UserID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(ev.EventType)},
		},
	})
	return err
}

// Close はプロデューサーを閉じる。
func (k *Kafka) Close() error {
	return k.producer.Close()
}
