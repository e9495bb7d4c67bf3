package notify

import (
	"fmt"

	"github.com/zulandar/roundhouse/internal/conversation"
)

// Sidebar colors used by chat subscribers.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxBodyLen keeps chat attachments under platform limits.
const maxBodyLen = 3500

// FormattedEvent is an Event rendered for display in chat.
type FormattedEvent struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is a key-value pair displayed in an attachment.
type Field struct {
	Name  string
	Value string
	Short bool
}

func authorColor(a conversation.Author) string {
	switch a {
	case conversation.AuthorEngineer:
		return ColorSuccess
	case conversation.AuthorQA:
		return ColorWarning
	default:
		return ColorInfo
	}
}

// Format renders evt for chat platforms.
func Format(evt Event) FormattedEvent {
	switch evt.Type {
	case EventMessage:
		if evt.Message == nil {
			break
		}
		m := evt.Message
		f := FormattedEvent{
			Title: fmt.Sprintf("%s on task %s", m.Author, evt.TaskID),
			Body:  truncate(m.Content, maxBodyLen),
			Color: authorColor(m.Author),
		}
		if m.Kind != "" {
			f.Fields = append(f.Fields, Field{Name: "Kind", Value: string(m.Kind), Short: true})
		}
		if m.TargetAuthor != "" {
			f.Fields = append(f.Fields, Field{Name: "To", Value: "@" + string(m.TargetAuthor), Short: true})
		}
		return f
	case EventSettled:
		color := ColorSuccess
		if evt.Status == conversation.StatusFailed {
			color = ColorError
		}
		return FormattedEvent{
			Title: fmt.Sprintf("Task %s %s", evt.TaskID, evt.Status),
			Body:  evt.Detail,
			Color: color,
		}
	case EventDepthExceeded:
		return FormattedEvent{
			Title: fmt.Sprintf("Task %s stopped: broadcast bound reached", evt.TaskID),
			Body:  evt.Detail,
			Color: ColorError,
		}
	}
	return FormattedEvent{
		Title: fmt.Sprintf("Task %s: %s", evt.TaskID, evt.Type),
		Body:  evt.Detail,
		Color: ColorInfo,
	}
}

// Text is the plain-text fallback for a formatted event.
func (f FormattedEvent) Text() string {
	if f.Body == "" {
		return f.Title
	}
	return f.Title + "\n" + f.Body
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
