// Package event はメッセージブローカーに流す配信イベントのエンベロープを定義する。
package event
