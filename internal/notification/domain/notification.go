package domain

import "time"

// 配信チャネル。
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
	ChannelInApp = "in_app"
)

// Channels は判定対象のチャネルを評価順に並べたもの。
var Channels = []string{ChannelEmail, ChannelPush, ChannelInApp}

// 独立したオプトインフラグで追加判定される通知種別。
const (
	TypeMarketing   = "marketing"
	TypePromotional = "promotional"
)

// TypeAll はアプリ内チャネルの種別リストでのみ有効な「全種別許可」の番兵値。
const TypeAll = "all"

// Notification は1件の通知レコード。
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Link      *string   `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
