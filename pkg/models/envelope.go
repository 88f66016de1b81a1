// Package models defines the wire types shared across the runtime: the
// request envelope and its lifecycle state machine, tool call records, and
// the event stream emitted while an envelope is processed.
package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChannelType identifies the surface a request arrived on.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelCLI      ChannelType = "cli"
	ChannelAPI      ChannelType = "api"
	ChannelWeb      ChannelType = "web"
)

// EnvelopeState is a node in the envelope lifecycle graph.
type EnvelopeState string

const (
	StateCreated     EnvelopeState = "created"
	StateAuthorized  EnvelopeState = "authorized"
	StateDenied      EnvelopeState = "denied"
	StateProcessing  EnvelopeState = "processing"
	StateToolCalling EnvelopeState = "tool_calling"
	StateCompleted   EnvelopeState = "completed"
	StateFailed      EnvelopeState = "failed"
)

// validTransitions is the full lifecycle graph. Anything absent is invalid.
var validTransitions = map[EnvelopeState][]EnvelopeState{
	StateCreated:     {StateAuthorized, StateDenied},
	StateAuthorized:  {StateProcessing},
	StateProcessing:  {StateToolCalling, StateCompleted, StateFailed},
	StateToolCalling: {StateProcessing, StateCompleted, StateFailed},
}

// InvalidTransitionError reports a lifecycle move the graph does not allow.
type InvalidTransitionError struct {
	From EnvelopeState
	To   EnvelopeState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid envelope transition %s -> %s", e.From, e.To)
}

// ToolCallRecord captures one tool dispatch attempt made while processing an
// envelope, in dispatch order. Result and Error are mutually exclusive.
type ToolCallRecord struct {
	Name      string    `json:"name"`
	Arguments string    `json:"arguments,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  int64     `json:"duration_ms"`
}

// Envelope is the unit of work that flows through the runtime. An adapter
// creates it, the policy layer authorizes or denies it, and the agent carries
// it to a terminal state. The ID is assigned exactly once at construction.
//
// State mutation is guarded: the agent and the policy layer write, adapters
// only read, and every write goes through Transition or one of the terminal
// helpers.
type Envelope struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Channel   ChannelType   `json:"channel"`
	UserID    string        `json:"user_id"`
	UserName  string        `json:"user_name,omitempty"`
	Content   string        `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	Response      string           `json:"response,omitempty"`
	Error         string           `json:"error,omitempty"`
	ToolCalls     []ToolCallRecord `json:"tool_calls,omitempty"`
	MemoryContext string           `json:"memory_context,omitempty"`

	mu    sync.Mutex
	state EnvelopeState
}

// NewEnvelope builds an envelope in the created state with a time-sortable
// identifier. UUIDv7 generation can only fail if the entropy source does; in
// that case we fall back to v4 rather than surface an error to every caller.
func NewEnvelope(channel ChannelType, userID, content string) *Envelope {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Envelope{
		ID:        id.String(),
		CreatedAt: time.Now().UTC(),
		Channel:   channel,
		UserID:    userID,
		Content:   content,
		state:     StateCreated,
	}
}

// State returns the current lifecycle state.
func (e *Envelope) State() EnvelopeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transition moves the envelope along the lifecycle graph. It returns an
// *InvalidTransitionError for any move the graph does not define, including
// any move out of a terminal state.
func (e *Envelope) Transition(to EnvelopeState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitionLocked(to)
}

func (e *Envelope) transitionLocked(to EnvelopeState) error {
	for _, next := range validTransitions[e.state] {
		if next == to {
			e.state = to
			return nil
		}
	}
	return &InvalidTransitionError{From: e.state, To: to}
}

// Terminal reports whether the envelope has reached a final state.
func (e *Envelope) Terminal() bool {
	switch e.State() {
	case StateCompleted, StateFailed, StateDenied:
		return true
	}
	return false
}

// Complete moves the envelope to completed and records the response. Only a
// completed envelope carries a response.
func (e *Envelope) Complete(response string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StateCompleted); err != nil {
		return err
	}
	e.Response = response
	e.Error = ""
	return nil
}

// Fail moves the envelope to failed and records the cause.
func (e *Envelope) Fail(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StateFailed); err != nil {
		return err
	}
	e.Response = ""
	if cause != nil {
		e.Error = cause.Error()
	}
	return nil
}

// Deny moves the envelope to denied and records the policy reason.
func (e *Envelope) Deny(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StateDenied); err != nil {
		return err
	}
	e.Response = ""
	e.Error = reason
	return nil
}

// RecordToolCall appends a dispatch record. Every attempt is recorded,
// including denials and failures.
func (e *Envelope) RecordToolCall(rec ToolCallRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ToolCalls = append(e.ToolCalls, rec)
}

// ValidChannel reports whether ch is one of the supported channel tags.
func ValidChannel(ch ChannelType) bool {
	switch ch {
	case ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelCLI, ChannelAPI, ChannelWeb:
		return true
	}
	return false
}
