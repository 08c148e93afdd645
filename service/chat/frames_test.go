package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"CSProject/tools/errs"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"message:send","seq":7,"data":{"conversation_id":"c1","content":"hi"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameSend || f.Seq != 7 {
		t.Fatalf("unexpected frame %+v", f)
	}
	if f.Data["content"] != "hi" {
		t.Fatalf("data not decoded: %+v", f.Data)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	if _, err := ParseFrame([]byte(`{not json`)); err == nil {
		t.Fatalf("malformed json should fail")
	}
	if _, err := ParseFrame([]byte(`{"seq":1}`)); err == nil {
		t.Fatalf("missing type should fail")
	}
}

func TestBuildOKRoundtrip(t *testing.T) {
	raw := BuildOK(3, map[string]any{"user_id": "u1"})
	var f struct {
		Type FrameType `json:"type"`
		Data Result    `json:"data"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != FrameResult || !f.Data.Ok || f.Data.Seq != 3 {
		t.Fatalf("unexpected result frame %+v", f)
	}
}

func TestBuildErrCarriesCode(t *testing.T) {
	raw := BuildErr(5, errs.ErrRateLimit)
	var f struct {
		Data Result `json:"data"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Data.Ok || f.Data.Code != 1003 || f.Data.Seq != 5 {
		t.Fatalf("unexpected error frame %+v", f.Data)
	}
}

func TestSanitizeContent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  hi  ", "hi"},
		{"a\x00b\x07c", "abc"},
		{"line1\nline2\tok", "line1\nline2\tok"},
		{"   \x00  ", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := SanitizeContent(c.in); got != c.want {
			t.Fatalf("SanitizeContent(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeContentTruncates(t *testing.T) {
	long := strings.Repeat("x", maxContentLen+100)
	if got := SanitizeContent(long); len(got) != maxContentLen {
		t.Fatalf("expect truncation to %d, got %d", maxContentLen, len(got))
	}

	// 截点正好落在多字节字符中间：回退到 rune 边界，产出必须仍是合法 UTF-8
	mixed := strings.Repeat("x", maxContentLen-1) + "世界"
	got := SanitizeContent(mixed)
	if len(got) > maxContentLen {
		t.Fatalf("expect at most %d bytes, got %d", maxContentLen, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("sanitized content must be valid UTF-8, tail=%q", got[len(got)-4:])
	}
	if !strings.HasPrefix(got, "x") || strings.Contains(got, "世界") {
		t.Fatalf("unexpected truncation result tail=%q", got[len(got)-4:])
	}
}
