package tools

import "unicode/utf8"

// TruncateUTF8 按字节上限截断，多字节字符不从中间切开：
// 截点落在续字节上时回退到最近的 rune 起始位。输入合法则输出必合法。
func TruncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
