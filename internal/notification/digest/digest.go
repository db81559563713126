// Package digest はダイジェスト配信待ちの通知をユーザー×チャネル単位のバケットに蓄積し、
// 境界時刻を過ぎたバケットを1件のペイロードにまとめてフラッシュする。
//
// バケットはプロセス内メモリ（MemoryStore）またはRedis（RedisStore）に保持する。
package digest

import (
	"context"
	"time"
)

// Key はバケットの識別子。
type Key struct {
	UserID  string
	Channel string
}

// Entry はダイジェスト待ちの通知1件。
type Entry struct {
	UserID         string    `json:"user_id"`
	Channel        string    `json:"channel"`
	NotificationID string    `json:"notification_id"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	// Until はこのエントリの配信予定時刻。バケットは最も早いUntilでフラッシュ対象になる。
	Until time.Time `json:"until"`
}

// Key はエントリが属するバケットを返す。
func (e Entry) Key() Key {
	return Key{UserID: e.UserID, Channel: e.Channel}
}

// Payload はフラッシュされた1バケット分のダイジェスト。
type Payload struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
	// NotificationIDs は追加順（古い順）。
	NotificationIDs []string  `json:"notification_ids"`
	FlushedAt       time.Time `json:"flushed_at"`
}

// Store はバケットの保存先。
// Drainはバケットの取り出しと削除を、並行するEnqueueに対して不可分に行うこと。
type Store interface {
	Enqueue(ctx context.Context, e Entry) error
	// Due はnow時点でフラッシュ対象のバケットを返す。
	Due(ctx context.Context, now time.Time) ([]Key, error)
	// Drain はバケットの全エントリを返して空にする。
	Drain(ctx context.Context, key Key) ([]Entry, error)
	// Remove はユーザーの全バケットから指定した通知のエントリを取り除く。
	Remove(ctx context.Context, userID string, notificationIDs []string) error
}

// Sink はフラッシュしたペイロードの引き渡し先。呼び出しをブロックしないこと。
type Sink interface {
	SendDigest(ctx context.Context, p Payload)
}
