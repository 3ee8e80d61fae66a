package alerts

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/transitpulse/pkg/gtfs-realtime/models"
)

// Convert turns raw feed entries into publishable alerts with markup
// reduced to plain text. Open-ended notices keep a zero start or end.
func Convert(messages []models.AlertMessage) []models.Alert {
	out := make([]models.Alert, 0, len(messages))
	for _, msg := range messages {
		alert := models.Alert{
			Header:      StripMarkup(msg.Title),
			Description: StripMarkup(msg.Body),
		}
		if !msg.Start.IsZero() {
			alert.Start = msg.Start.Unix()
		}
		if !msg.End.IsZero() {
			alert.End = msg.End.Unix()
		}
		out = append(out, alert)
	}
	return out
}

// StripMarkup renders feed HTML as plain text. Line breaks become
// newlines, paragraph openers become blank lines, every other tag is
// dropped and character entities are decoded. Plain text passes
// through unchanged.
func StripMarkup(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder

	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteByte('\n')
			case "p":
				b.WriteString("\n\n")
			}
		}
	}
}
