package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/pkg/event"
)

// TestKafkaSend はイベントがエンコードされてトピックに書き込まれることを検証する。
func TestKafkaSend(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		ev, err := event.Decode(val)
		if err != nil {
			return err
		}
		if ev.EventType != event.TypeDeliveryRequested || ev.UserID != "u1" {
			return errors.New("想定外のイベント")
		}
		return nil
	})
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		ev, err := event.Decode(val)
		if err != nil {
			return err
		}
		d, err := event.DecodeData[event.DigestReadyData](ev)
		if err != nil {
			return err
		}
		if d.DigestID != "d1" {
			return errors.New("想定外のダイジェスト")
		}
		return nil
	})

	k := NewKafkaWithProducer(sp, "notice.deliveries")
	if err := k.Send(context.Background(), Delivery{NotificationID: "n1", UserID: "u1", Channel: "push"}); err != nil {
		t.Fatalf("Send()でエラーが発生: %v", err)
	}
	if err := k.SendDigest(context.Background(), digest.Payload{ID: "d1", UserID: "u1", Channel: "email"}); err != nil {
		t.Fatalf("SendDigest()でエラーが発生: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close()でエラーが発生: %v", err)
	}
}

// TestKafkaSendError はプロデューサーの失敗がTransportErrorになることを検証する。
func TestKafkaSendError(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := NewKafkaWithProducer(sp, "notice.deliveries")
	err := k.Send(context.Background(), Delivery{NotificationID: "n1", UserID: "u1", Channel: "email"})
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("TransportErrorが返るべき: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close()でエラーが発生: %v", err)
	}
}

// TestKafkaCanceledContext はキャンセル済みのコンテキストで書き込まないことを検証する。
func TestKafkaCanceledContext(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	k := NewKafkaWithProducer(sp, "notice.deliveries")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := k.Send(ctx, Delivery{NotificationID: "n1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() = %v, want context.Canceled", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close()でエラーが発生: %v", err)
	}
}

// TestNewKafkaNoBrokers はブローカー未指定をエラーにすることを検証する。
func TestNewKafkaNoBrokers(t *testing.T) {
	t.Parallel()

	if _, err := NewKafka(nil, "topic"); err == nil {
		t.Error("エラーが返るべき")
	}
}
