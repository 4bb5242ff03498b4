package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Limits applied to inbound text.
const (
	MaxNameLength       = 20
	MaxBodyLength       = 500
	MaxAttachmentLength = 500000
)

// Attachment bodies carry encoded media and are neither escaped nor held to
// MaxBodyLength.
var attachmentPrefixes = []string{"[STICKER:", "[IMAGE:"}

// Message is one chat line as delivered to subscribers and history readers.
type Message struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Line    string    `json:"line"`
}

// FormatLine renders the classic "[HH:MM:SS] name: text" line.
func FormatLine(name, body string, t time.Time) string {
	return "[" + t.Format("15:04:05") + "] " + name + ": " + body
}

func newMessage(id, name, body string, t time.Time) Message {
	return Message{
		ID:      id,
		Name:    name,
		Message: body,
		Time:    t,
		Line:    FormatLine(name, body, t),
	}
}

// SanitizeName truncates a sender name and escapes angle brackets.
func SanitizeName(name string) string {
	return escape(truncate(name, MaxNameLength))
}

// SanitizeBody truncates a message body and escapes angle brackets, unless
// the body is an attachment.
func SanitizeBody(body string) string {
	if isAttachment(body) {
		return truncate(body, MaxAttachmentLength)
	}
	return escape(truncate(body, MaxBodyLength))
}

func isAttachment(body string) bool {
	for _, p := range attachmentPrefixes {
		if strings.HasPrefix(body, p) {
			return true
		}
	}
	return false
}

var htmlEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return htmlEscaper.Replace(s)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
