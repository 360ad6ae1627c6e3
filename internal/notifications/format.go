package notifications

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feedwatch/feedwatch/internal/models"
)

const (
	colorNew       = 0x2ECC71
	colorUpdated   = 0xE67E22
	colorImmediate = 0xE74C3C

	descriptionLength = 1000
	maxExtraLines     = 10
)

// Format renders a notification record for the source it came from.
func Format(rec models.NotificationRecord, src models.SourceConfig) Message {
	item := rec.Item

	title := item.Title
	color := colorNew
	switch {
	case rec.IsUpdate:
		title = "Updated: " + title
		color = colorUpdated
	case rec.Immediate:
		color = colorImmediate
	}
	if item.Sticky {
		title = "📌 " + title
	}

	msg := Message{
		Content:     src.Mention,
		Title:       title,
		URL:         item.URL,
		Description: truncate(item.Body, descriptionLength),
		Color:       color,
		Footer:      src.DisplayName(),
		Timestamp:   item.PublishedAt,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = rec.CreatedAt
	}

	if item.Author != "" {
		msg.Fields = append(msg.Fields, Field{Name: "Author", Value: item.Author, Inline: true})
	}
	if src.Mode == models.ModeScored {
		score := "high priority"
		if !rec.Immediate {
			score = fmt.Sprintf("%.1f", rec.Score)
		}
		msg.Fields = append(msg.Fields, Field{Name: "Score", Value: score, Inline: true})
	}
	if len(item.Extra) > 0 {
		extra := item.Extra
		more := ""
		if len(extra) > maxExtraLines {
			more = fmt.Sprintf("\n(+%d more)", len(extra)-maxExtraLines)
			extra = extra[:maxExtraLines]
		}
		msg.Fields = append(msg.Fields, Field{Name: "Details", Value: "▸ " + strings.Join(extra, "\n▸ ") + more})
	}

	return msg
}

// RenderText flattens a Message for text-only channels.
func RenderText(msg Message) string {
	var text strings.Builder

	if msg.Content != "" {
		text.WriteString(msg.Content + "\n")
	}
	text.WriteString(msg.Title + "\n")
	if msg.URL != "" {
		text.WriteString(msg.URL + "\n")
	}
	if msg.Description != "" {
		text.WriteString("\n" + msg.Description + "\n")
	}
	for _, f := range msg.Fields {
		text.WriteString(fmt.Sprintf("\n%s: %s", f.Name, f.Value))
	}
	if msg.Footer != "" {
		text.WriteString("\nvia " + msg.Footer)
	}
	return strings.TrimSpace(text.String())
}

// TargetHealth is the per-target line of a heartbeat message.
type TargetHealth struct {
	TargetID    string
	LastSuccess time.Time
	LastError   string
}

// Heartbeat renders the periodic "monitor alive" message.
func Heartbeat(now time.Time, targets []TargetHealth) Message {
	msg := Message{
		Title:     "feedwatch is running",
		Color:     colorNew,
		Timestamp: now,
	}
	for _, t := range targets {
		value := "no successful cycle yet"
		if !t.LastSuccess.IsZero() {
			value = "last success " + now.Sub(t.LastSuccess).Round(time.Second).String() + " ago"
		}
		if t.LastError != "" {
			value += "\nlast error: " + truncate(t.LastError, 200)
			msg.Color = colorUpdated
		}
		msg.Fields = append(msg.Fields, Field{Name: t.TargetID, Value: value})
	}
	return msg
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
