package chat

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeBody(t *testing.T) {
	long := strings.Repeat("x", 600)
	sticker := "[STICKER:" + strings.Repeat("A", 1000) + "<b>]"

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"escapes markup", "<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"truncates", long, strings.Repeat("x", MaxBodyLength)},
		{"sticker kept raw", sticker, sticker},
		{"image prefix", "[IMAGE:/files/a.png]", "[IMAGE:/files/a.png]"},
		{"multibyte counted as runes", strings.Repeat("你", 501), strings.Repeat("你", 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeBody(tt.in); got != tt.want {
				t.Errorf("SanitizeBody() = %q (len %d), want len %d", got, len(got), len(tt.want))
			}
		})
	}
}

func TestSanitizeBody_AttachmentLimit(t *testing.T) {
	in := "[IMAGE:" + strings.Repeat("A", MaxAttachmentLength)
	if got := SanitizeBody(in); len(got) != MaxAttachmentLength {
		t.Errorf("len = %d, want %d", len(got), MaxAttachmentLength)
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("<alice>"); got != "&lt;alice&gt;" {
		t.Errorf("SanitizeName() = %q", got)
	}
	if got := SanitizeName(strings.Repeat("n", 30)); got != strings.Repeat("n", MaxNameLength) {
		t.Errorf("SanitizeName() = %q, want %d runes", got, MaxNameLength)
	}
}

func TestFormatLine(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 5, 7, 0, time.UTC)
	if got, want := FormatLine("alice", "hi", at), "[09:05:07] alice: hi"; got != want {
		t.Errorf("FormatLine() = %q, want %q", got, want)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{61 * time.Second, "00:01:01"},
		{26*time.Hour + 3*time.Minute + 4*time.Second + 900*time.Millisecond, "26:03:04"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
