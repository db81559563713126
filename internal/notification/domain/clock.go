package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// MinutesPerDay は1日の分数。
const MinutesPerDay = 24 * 60

// ParseClock はHH:mm形式の時刻を0時からの経過分に変換する。
func ParseClock(s string) (int, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("HH:mm形式ではありません: %q", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	return h*60 + m, nil
}
