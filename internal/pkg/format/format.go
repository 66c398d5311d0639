package format

import (
	"strconv"
	"strings"
)

// Float 以固定精度格式化并去掉多余的尾随 0。
func Float(v float64, prec int) string {
	if prec < 0 {
		prec = 0
	}
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

// USD 输出两位小数的金额。
func USD(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// SignedUSD 输出带符号的两位小数金额。
func SignedUSD(v float64) string {
	if v >= 0 {
		return "+" + USD(v)
	}
	return USD(v)
}
