// Package audit is the append-only record of every policy decision and tool
// dispatch. Records are buffered through a single writer goroutine so hot
// paths never block on the sink; ordering within one goroutine is preserved.
package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome recorded for an evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// SubjectMessage is the subject used for request-level admission, as opposed
// to a tool name.
const SubjectMessage = "message"

// Record is one audit entry. Records are never rewritten.
type Record struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EnvelopeID string            `json:"envelope_id,omitempty"`
	UserID     string            `json:"user_id"`
	Channel    string            `json:"channel,omitempty"`
	Decision   Decision          `json:"decision"`
	Subject    string            `json:"subject"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink persists records. Implementations must keep append order.
type Sink interface {
	Append(Record) error
	// Tail returns up to n most recent records matching filter (nil
	// matches all), newest first.
	Tail(n int, filter func(Record) bool) ([]Record, error)
	Close() error
}

// Logger fans records into the sink through a buffered channel.
type Logger struct {
	sink   Sink
	ch     chan Record
	flush  chan chan struct{}
	done   chan struct{}
	closed sync.Once
	logger *slog.Logger
}

// NewLogger starts the writer goroutine over sink.
func NewLogger(sink Sink, buffer int, logger *slog.Logger) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		sink:   sink,
		ch:     make(chan Record, buffer),
		flush:  make(chan chan struct{}),
		done:   make(chan struct{}),
		logger: logger.With("component", "audit"),
	}
	go l.run()
	return l
}

func (l *Logger) run() {
	defer close(l.done)
	for {
		select {
		case rec, ok := <-l.ch:
			if !ok {
				return
			}
			l.append(rec)
		case ack := <-l.flush:
			l.drain()
			close(ack)
		}
	}
}

func (l *Logger) append(rec Record) {
	if err := l.sink.Append(rec); err != nil {
		l.logger.Error("audit append failed", "error", err, "record_id", rec.ID)
	}
}

// drain empties whatever is queued right now without blocking.
func (l *Logger) drain() {
	for {
		select {
		case rec, ok := <-l.ch:
			if !ok {
				return
			}
			l.append(rec)
		default:
			return
		}
	}
}

// Log queues a record, filling in its id and timestamp when absent. The send
// blocks when the buffer is full rather than dropping: every evaluation is
// recorded exactly once.
func (l *Logger) Log(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	l.ch <- rec
}

// Flush blocks until everything queued before the call has reached the sink.
func (l *Logger) Flush() {
	ack := make(chan struct{})
	select {
	case l.flush <- ack:
		<-ack
	case <-l.done:
	}
}

// Close drains the queue and closes the sink.
func (l *Logger) Close() error {
	l.closed.Do(func() {
		close(l.ch)
		<-l.done
	})
	return l.sink.Close()
}

// Tail returns the last n records, newest first.
func (l *Logger) Tail(n int) ([]Record, error) {
	l.Flush()
	return l.sink.Tail(n, nil)
}

// Denied returns the last n deny records.
func (l *Logger) Denied(n int) ([]Record, error) {
	l.Flush()
	return l.sink.Tail(n, func(r Record) bool { return r.Decision == DecisionDeny })
}

// ForUser returns the last n records for one user.
func (l *Logger) ForUser(userID string, n int) ([]Record, error) {
	l.Flush()
	return l.sink.Tail(n, func(r Record) bool { return r.UserID == userID })
}
