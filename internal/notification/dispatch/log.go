package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/pkg/zlog"
)

// Log は送信内容をログに出力するだけのDispatcher。開発環境向け。
type Log struct{}

// Send は即時配信をログに出力する。
func (Log) Send(_ context.Context, d Delivery) error {
	zlog.Info("配信",
		zap.String("channel", d.Channel),
		zap.String("user_id", d.UserID),
		zap.String("notification_id", d.NotificationID),
		zap.String("type", d.Type),
	)
	return nil
}

// SendDigest はダイジェストをログに出力する。
func (Log) SendDigest(_ context.Context, p digest.Payload) error {
	zlog.Info("ダイジェスト配信",
		zap.String("channel", p.Channel),
		zap.String("user_id", p.UserID),
		zap.String("digest_id", p.ID),
		zap.Strings("notification_ids", p.NotificationIDs),
	)
	return nil
}
