package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound は対象が存在しない、または呼び出し元ユーザーの所有でないことを表す。
	ErrNotFound = errors.New("対象が見つかりません")
	// ErrInvalidInput はフィールドに紐づかない不正な入力を表す。
	ErrInvalidInput = errors.New("入力が不正です")
	// ErrConflict は同時更新と競合し、再試行しても保存できなかったことを表す。
	ErrConflict = errors.New("他の更新と競合しました")
)

// ValidationError はフィールド単位の検証エラー。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid はValidationErrorを生成する。
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation はerrがValidationErrorまたはErrInvalidInputを含むか判定する。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidInput)
}
