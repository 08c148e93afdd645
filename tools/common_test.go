package tools

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"", 3, ""},
		{"abc", 0, ""},
		// 截点落在"世"的续字节上：整个字符回退
		{"ab世界", 3, "ab"},
		{"ab世界", 5, "ab世"},
		{"ab世界", 8, "ab世界"},
	}
	for _, c := range cases {
		if got := TruncateUTF8(c.in, c.max); got != c.want {
			t.Fatalf("TruncateUTF8(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}

func TestTruncateUTF8KeepsValidity(t *testing.T) {
	s := strings.Repeat("界", 100)
	for max := 0; max <= len(s); max++ {
		got := TruncateUTF8(s, max)
		if len(got) > max {
			t.Fatalf("max=%d: result too long (%d bytes)", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("max=%d: result is invalid UTF-8: %q", max, got)
		}
	}
}
