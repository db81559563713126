package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeDeliveryRequested は単一チャネルへの即時配信が要求されたことを表す。
	TypeDeliveryRequested Type = "DeliveryRequested"
	// TypeDigestReady はダイジェストがまとめられ配信可能になったことを表す。
	TypeDigestReady Type = "DigestReady"
)

// Event はブローカーに書き込まれる不変のイベントレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// UserID は配信先のユーザー。パーティションキーにも使う。
	UserID string `json:"user_id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントの生成日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryRequestedData はDeliveryRequestedイベントのデータ。
type DeliveryRequestedData struct {
	NotificationID string  `json:"notification_id"`
	Channel        string  `json:"channel"`
	Type           string  `json:"type"`
	Message        string  `json:"message"`
	Link           *string `json:"link,omitempty"`
}

// DigestReadyData はDigestReadyイベントのデータ。
type DigestReadyData struct {
	DigestID        string    `json:"digest_id"`
	Channel         string    `json:"channel"`
	NotificationIDs []string  `json:"notification_ids"`
	FlushedAt       time.Time `json:"flushed_at"`
}
