package tgtext

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes is Telegram's limit for a single text message.
const MaxMessageRunes = 4096

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// EscapeMarkdown neutralizes legacy Markdown control characters so that
// user-controlled text cannot open bold/italic/code spans or links.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// EscapeMarkdownTrunc escapes s like EscapeMarkdown and keeps the result
// within n runes, ending in "…" when cut. An escape is never split from the
// character it protects.
func EscapeMarkdownTrunc(s string, n int) string {
	if n <= 0 {
		return ""
	}
	esc := EscapeMarkdown(s)
	if utf8.RuneCountInString(esc) <= n {
		return esc
	}
	var b strings.Builder
	used := 0
	for _, r := range s {
		w := 1
		if isMarkdownControl(r) {
			w = 2
		}
		if used+w > n-1 {
			break
		}
		if w == 2 {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
		used += w
	}
	b.WriteString("…")
	return b.String()
}

func isMarkdownControl(r rune) bool {
	return r == '_' || r == '*' || r == '`' || r == '['
}

// OneLine folds CR/LF runs into single spaces.
func OneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }), " ")
}
