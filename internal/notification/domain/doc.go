// Package domain は通知と通知設定のモデル、ストア向けのクエリ型、エラー分類を定義する。
//
// 他のパッケージはすべてこのパッケージに依存し、このパッケージは標準ライブラリ以外に依存しない。
package domain
