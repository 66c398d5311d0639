package text

import "strings"

// Truncate 按 rune 截断并追加 "..."。
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// Squash 把连续空白折叠为单个空格。
func Squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
