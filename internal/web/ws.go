package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jedisos/jedisos/pkg/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxFrameSize = 64 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API binds to loopback; browser clients are same-host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is a message frame from the client.
type wsInbound struct {
	Content string `json:"content"`
}

// wsOutbound is one frame to the client. Type is stream, done, notification,
// or error; exactly one payload field is set per type.
type wsOutbound struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Response string `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
}

const wsInboundSchema = `{
	"type": "object",
	"required": ["content"],
	"additionalProperties": false,
	"properties": {
		"content": {"type": "string", "minLength": 1}
	}
}`

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	inbound *jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		wsSchemas.inbound, wsSchemas.initErr = jsonschema.CompileString("ws_inbound", wsInboundSchema)
	})
	return wsSchemas.initErr
}

func validateWSInbound(raw []byte, frame *wsInbound) error {
	if err := initWSSchemas(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.inbound.Validate(payload); err != nil {
		return err
	}
	return json.Unmarshal(raw, frame)
}

// handleChatWS upgrades the connection and runs a message-in, token-out chat
// session. Each inbound frame becomes an envelope; the envelope's event
// stream and any background notifications are written back as typed frames.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = "web"
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxFrameSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.engine.Sessions().Open(userID, models.ChannelWeb)
	defer s.engine.Sessions().Close(sess)

	// Single writer: frames funnel through the session queue.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-sess.Events():
				if err := s.writeFrame(conn, frameFor(ev)); err != nil {
					cancel()
					return
				}
			case <-sess.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var in wsInbound
		if err := validateWSInbound(raw, &in); err != nil {
			sess.Enqueue(ctx, models.ErrorEvent(err))
			continue
		}

		env := models.NewEnvelope(models.ChannelWeb, userID, in.Content)
		events, err := s.engine.Submit(ctx, env)
		if err != nil {
			sess.Enqueue(ctx, models.ErrorEvent(err))
			continue
		}
		for ev := range events {
			if !sess.Enqueue(ctx, ev) {
				break
			}
		}
	}

	cancel()
	wg.Wait()
}

// frameFor maps a processing event onto the wire frame types.
func frameFor(ev models.Event) wsOutbound {
	switch ev.Type {
	case models.EventStreamToken:
		return wsOutbound{Type: "stream", Content: ev.Token}
	case models.EventDone:
		return wsOutbound{Type: "done", Response: ev.Text}
	case models.EventNotification:
		return wsOutbound{Type: "notification", Message: ev.Text}
	case models.EventError:
		return wsOutbound{Type: "error", Message: ev.Err}
	case models.EventToolStart:
		return wsOutbound{Type: "stream", Content: "\n[" + ev.Tool + "...]"}
	case models.EventToolEnd:
		if ev.ToolError != "" {
			return wsOutbound{Type: "stream", Content: " failed\n"}
		}
		return wsOutbound{Type: "stream", Content: " done\n"}
	default:
		return wsOutbound{Type: "stream", Content: ""}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsOutbound) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}
