// Package session owns the per-connection event queues between the agent
// and the channel adapters, and the notifier that delivers background
// completions to every live session a user has open.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jedisos/jedisos/pkg/models"
)

// DefaultQueueSize bounds one session's event queue. A full queue blocks the
// producer: a slow channel slows only its own request.
const DefaultQueueSize = 64

// Session is one live connection's event queue. The queue channel is never
// closed; consumers watch Done alongside Events so a session can end while
// producers are still holding references.
type Session struct {
	ID      string
	UserID  string
	Channel models.ChannelType

	queue chan models.Event
	done  chan struct{}
	once  sync.Once
}

// Events is the consumer side of the queue. Select on Done in the same loop.
func (s *Session) Events() <-chan models.Event {
	return s.queue
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Enqueue delivers one event, blocking while the queue is full. It returns
// false when the session has ended or ctx is cancelled.
func (s *Session) Enqueue(ctx context.Context, ev models.Event) bool {
	select {
	case s.queue <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Manager tracks live sessions by user so background completions can find
// every connection the user has open.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // by session id
	byUser   map[string]map[string]*Session // user id -> session id -> session
	size     int
	logger   *slog.Logger
}

// NewManager builds a session manager; size <= 0 gets the default queue size.
func NewManager(size int, logger *slog.Logger) *Manager {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		size:     size,
		logger:   logger.With("component", "session"),
	}
}

// Open registers a new session for the user.
func (m *Manager) Open(userID string, channel models.ChannelType) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		UserID:  userID,
		Channel: channel,
		queue:   make(chan models.Event, m.size),
		done:    make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Session)
	}
	m.byUser[userID][s.ID] = s
	m.mu.Unlock()

	m.logger.Debug("session opened", "session_id", s.ID, "user_id", userID, "channel", string(channel))
	return s
}

// Close ends the session and forgets it. Safe to call twice.
func (m *Manager) Close(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	if peers := m.byUser[s.UserID]; peers != nil {
		delete(peers, s.ID)
		if len(peers) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
	m.mu.Unlock()

	s.once.Do(func() { close(s.done) })
}

// ForUser returns the user's live sessions.
func (m *Manager) ForUser(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byUser[userID]))
	for _, s := range m.byUser[userID] {
		out = append(out, s)
	}
	return out
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Notify replicates a background completion to every live session the user
// has open. Delivery never blocks: a session whose queue is full at that
// moment is skipped, which is acceptable because offline and lagging users
// find the notification in audit history.
func (m *Manager) Notify(userID, message string) {
	ev := models.NotificationEvent(message)
	delivered := 0
	for _, s := range m.ForUser(userID) {
		select {
		case s.queue <- ev:
			delivered++
		case <-s.done:
		default:
		}
	}
	m.logger.Info("notification dispatched", "user_id", userID, "sessions", delivered)
}
