// Package middleware は通知APIで使用するGinミドルウェアを提供する。
//
// 呼び出し元ユーザーの識別（JWT検証または信頼済みヘッダー）、
// リクエストログ、パニックリカバリ、CORSを含む。
// 認可（誰がどのAPIを呼べるか）はこのパッケージの責務ではない。
package middleware
