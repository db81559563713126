// Package notification は通知サービスのHTTP APIを提供する。
//
// 通知設定の参照と更新、フィードの検索とページング、既読管理と一括操作、
// 集計、上流からの通知受け付けをGinのハンドラとして公開する。
// 配信判定やダイジェストなどの処理はサブパッケージが担う。
package notification
