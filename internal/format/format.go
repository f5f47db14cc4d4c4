// Package format renders offenses as Telegram Markdown alerts.
package format

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"offensebot/internal/offense"
	"offensebot/pkg/tgtext"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	notAvail   = "N/A"

	// offenseSummaryPath is appended to the console base URL; the offense id
	// follows as the summaryId value.
	offenseSummaryPath = "console/qradar/jsp/QRadar.jsp?appName=Sem&pageId=OffenseSummary&summaryId="
)

// Formatter turns offenses into display messages. It holds no mutable state,
// so Format is safe to call from anywhere and always yields the same text for
// the same offense.
type Formatter struct {
	// ConsoleURL is the SIEM console base URL (e.g. "https://qradar.example/").
	ConsoleURL string
	// Location is used to render start_time. Nil means time.Local.
	Location *time.Location
}

func New(consoleURL string, loc *time.Location) Formatter {
	return Formatter{ConsoleURL: consoleURL, Location: loc}
}

// Format renders o. Field order is fixed: header, time, category, source,
// source network, destination networks, severity, link. The description is
// shortened so the whole message fits in one Telegram message.
func (f Formatter) Format(o offense.Offense) string {
	head := "*Offense id*: " + tgtext.EscapeMarkdown(o.ID.String()) + " - "

	var tail strings.Builder
	tail.Grow(512)
	tail.WriteString("\n*Time:* ")
	tail.WriteString(f.StartTime(o.StartTime))
	tail.WriteString("\n*Category:* ")
	tail.WriteString(orNA(strings.Join(o.Categories, ", ")))
	tail.WriteString("\n*Offense Source:* ")
	tail.WriteString(orNA(o.OffenseSource))
	tail.WriteString("\n*Source Network:* ")
	tail.WriteString(orNA(o.SourceNetwork))
	tail.WriteString("\n*Destination Networks:* ")
	tail.WriteString(orNA(strings.Join(o.DestinationNetworks, ", ")))
	tail.WriteString("\n*Severity:* ")
	tail.WriteString(SeverityBar(o.Severity))
	tail.WriteString("\n*URL:* [click here](")
	tail.WriteString(f.Link(o.ID))
	tail.WriteString(")")

	budget := tgtext.MaxMessageRunes - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail.String())
	return head + descriptionWithin(o.Description, budget) + tail.String()
}

// StartTime renders epoch milliseconds as "YYYY-MM-DD HH:MM:SS".
func (f Formatter) StartTime(ms int64) string {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format(timeLayout)
}

// Link builds the console deep link for an offense.
func (f Formatter) Link(id offense.ID) string {
	return BaseURL(f.ConsoleURL) + offenseSummaryPath + url.QueryEscape(id.String())
}

// BaseURL normalizes u to end with exactly one slash.
func BaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/") + "/"
}

// descriptionWithin drops literal "\n" escape sequences the SIEM leaves in
// descriptions, folds real line breaks, and escapes Markdown, keeping the
// result within n runes.
func descriptionWithin(s string, n int) string {
	return tgtext.EscapeMarkdownTrunc(cleanDescription(s), n)
}

func cleanDescription(s string) string {
	s = strings.ReplaceAll(s, `\n`, "")
	return strings.TrimSpace(tgtext.OneLine(s))
}

func orNA(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return notAvail
	}
	return tgtext.EscapeMarkdown(tgtext.OneLine(s))
}
