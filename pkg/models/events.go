package models

import "time"

// EventType tags an entry on the stream an envelope's consumer receives.
type EventType string

const (
	// EventStreamToken carries one model output token.
	EventStreamToken EventType = "stream-token"
	// EventToolStart announces a tool dispatch about to run.
	EventToolStart EventType = "tool-start"
	// EventToolEnd reports the outcome of a tool dispatch.
	EventToolEnd EventType = "tool-end"
	// EventDone closes the stream; the envelope is terminal.
	EventDone EventType = "done"
	// EventError reports a terminal failure.
	EventError EventType = "error"
	// EventNotification carries an out-of-band message, such as a forge
	// finishing in the background.
	EventNotification EventType = "notification"
)

// Event is one entry on an envelope's processing stream. Exactly one of the
// payload fields is meaningful per type: Token for stream-token, Tool and
// ToolError for tool events, Text for done/notification, Err for error.
type Event struct {
	Type      EventType `json:"type"`
	Token     string    `json:"token,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	ToolError string    `json:"tool_error,omitempty"`
	Text      string    `json:"text,omitempty"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenEvent builds a stream-token event.
func TokenEvent(token string) Event {
	return Event{Type: EventStreamToken, Token: token, Timestamp: time.Now().UTC()}
}

// ToolStartEvent builds a tool-start event.
func ToolStartEvent(tool string) Event {
	return Event{Type: EventToolStart, Tool: tool, Timestamp: time.Now().UTC()}
}

// ToolEndEvent builds a tool-end event; toolErr is empty on success.
func ToolEndEvent(tool, toolErr string) Event {
	return Event{Type: EventToolEnd, Tool: tool, ToolError: toolErr, Timestamp: time.Now().UTC()}
}

// DoneEvent closes the stream with the final response text.
func DoneEvent(text string) Event {
	return Event{Type: EventDone, Text: text, Timestamp: time.Now().UTC()}
}

// ErrorEvent reports a terminal failure.
func ErrorEvent(err error) Event {
	ev := Event{Type: EventError, Timestamp: time.Now().UTC()}
	if err != nil {
		ev.Err = err.Error()
	}
	return ev
}

// NotificationEvent carries a background completion to live sessions.
func NotificationEvent(text string) Event {
	return Event{Type: EventNotification, Text: text, Timestamp: time.Now().UTC()}
}
