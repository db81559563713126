// Package httpclient は外部配信サービスへJSONを送るためのHTTPクライアントを提供する。
//
// タイムアウトと共通ヘッダーはオプションで設定する。
// 2xx以外のレスポンスは *StatusError として返る。
package httpclient
