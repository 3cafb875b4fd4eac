// Package websocket exposes the agent over a JSON-framed websocket. Each
// connection is one chat; the server is the inbound adapter, the outgoing
// sink, and the confirmation presenter for websocket chats.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaybot/relay/internal/approval"
	"github.com/relaybot/relay/internal/channels"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/pkg/models"
)

const (
	maxPayloadBytes = 1 << 20
	sendBuffer      = 64
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingInterval    = 15 * time.Second
)

// Frame is the wire format in both directions.
//
// Client to server: "message" (content, optional attachments) and "confirm"
// (id, approved). Server to client: "hello", "text", "voice",
// "attachments", "confirm_request", and "error".
type Frame struct {
	Type        string              `json:"type"`
	ID          string              `json:"id,omitempty"`
	ChatID      string              `json:"chat_id,omitempty"`
	Content     string              `json:"content,omitempty"`
	ToolName    string              `json:"tool_name,omitempty"`
	Description string              `json:"description,omitempty"`
	Approved    *bool               `json:"approved,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// ConfirmationResolver receives approve/deny verdicts from confirm frames.
type ConfirmationResolver interface {
	OnConfirmationCallback(id string, approved bool) bool
}

// Server is the websocket channel adapter. Mount it on an HTTP mux; each
// upgraded connection becomes a chat identified by the "chat" query
// parameter, or a generated id when absent.
type Server struct {
	upgrader websocket.Upgrader
	resolver ConfirmationResolver
	messages chan *models.Message
	log      *observability.Logger

	mu      sync.RWMutex
	conns   map[string]*wsConn
	stopped bool
}

// NewServer creates a websocket adapter. The resolver may be nil when tool
// confirmations are disabled.
func NewServer(resolver ConfirmationResolver, log *observability.Logger) *Server {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		resolver: resolver,
		messages: make(chan *models.Message, sendBuffer),
		log:      log,
		conns:    make(map[string]*wsConn),
	}
}

// Start is a no-op; the HTTP server hosting the handler drives the
// lifecycle. It exists to satisfy the adapter contract.
func (s *Server) Start(ctx context.Context) error {
	return nil
}

// Stop closes every connection and the inbound stream.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*wsConn)
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	close(s.messages)
	return nil
}

// Messages returns the inbound stream.
func (s *Server) Messages() <-chan *models.Message {
	return s.messages
}

// Type returns the websocket channel type.
func (s *Server) Type() models.ChannelType {
	return models.ChannelWebSocket
}

// Channel identifies this sink to the response router.
func (s *Server) Channel() models.ChannelType {
	return models.ChannelWebSocket
}

// Status reports whether any client is connected.
func (s *Server) Status() channels.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return channels.Status{Connected: len(s.conns) > 0}
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	chatID := r.URL.Query().Get("chat")
	if chatID == "" {
		chatID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		chatID: chatID,
		ctx:    ctx,
		cancel: cancel,
	}
	s.register(c)
	defer s.unregister(c)

	go c.writeLoop()
	c.sendFrame(Frame{Type: "hello", ChatID: chatID})
	c.readLoop()
}

func (s *Server) register(c *wsConn) {
	s.mu.Lock()
	prev := s.conns[c.chatID]
	s.conns[c.chatID] = c
	s.mu.Unlock()
	if prev != nil {
		prev.close()
	}
}

func (s *Server) unregister(c *wsConn) {
	s.mu.Lock()
	if s.conns[c.chatID] == c {
		delete(s.conns, c.chatID)
	}
	s.mu.Unlock()
	c.close()
}

func (s *Server) lookup(chatID string) (*wsConn, error) {
	s.mu.RLock()
	c, ok := s.conns[chatID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("websocket: no connection for chat %q", chatID)
	}
	return c, nil
}

// SendText delivers a text frame to the chat's connection.
func (s *Server) SendText(ctx context.Context, chatID, text string) error {
	return s.deliver(chatID, Frame{Type: "text", Content: text})
}

// SendVoice delivers the spoken-form text as a voice frame; the client
// decides how to render it.
func (s *Server) SendVoice(ctx context.Context, chatID, text string) error {
	return s.deliver(chatID, Frame{Type: "voice", Content: text})
}

// SendAttachments delivers all attachments in one frame.
func (s *Server) SendAttachments(ctx context.Context, chatID string, attachments []models.Attachment) error {
	return s.deliver(chatID, Frame{Type: "attachments", Attachments: attachments})
}

// PresentConfirmation asks the client to approve or deny a tool run. The
// client answers with a confirm frame carrying the same id.
func (s *Server) PresentConfirmation(ctx context.Context, chatID string, prompt approval.ConfirmationPrompt) error {
	return s.deliver(chatID, Frame{
		Type:        "confirm_request",
		ID:          prompt.ID,
		ToolName:    prompt.ToolName,
		Description: prompt.Description,
	})
}

func (s *Server) deliver(chatID string, frame Frame) error {
	c, err := s.lookup(chatID)
	if err != nil {
		return err
	}
	if !c.sendFrame(frame) {
		return fmt.Errorf("websocket: send buffer full for chat %q", chatID)
	}
	return nil
}

type wsConn struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	chatID string
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

func (c *wsConn) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendFrame(Frame{Type: "error", Content: "invalid frame"})
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *wsConn) handleFrame(frame Frame) {
	switch frame.Type {
	case "message":
		if frame.Content == "" && len(frame.Attachments) == 0 {
			c.sendFrame(Frame{Type: "error", Content: "message requires content"})
			return
		}
		attachments := frame.Attachments
		if len(attachments) > models.MaxInboundAttachments {
			attachments = attachments[:models.MaxInboundAttachments]
		}
		msg := &models.Message{
			ID:          uuid.NewString(),
			Channel:     models.ChannelWebSocket,
			ChatID:      c.chatID,
			Role:        models.RoleUser,
			Content:     frame.Content,
			Attachments: attachments,
			CreatedAt:   time.Now(),
		}
		select {
		case c.server.messages <- msg:
		case <-c.ctx.Done():
		default:
			c.server.log.Warn(c.ctx, "websocket inbound buffer full, dropping message", "chat_id", c.chatID)
		}

	case "confirm":
		if frame.ID == "" || frame.Approved == nil {
			c.sendFrame(Frame{Type: "error", Content: "confirm requires id and approved"})
			return
		}
		if c.server.resolver != nil {
			c.server.resolver.OnConfirmationCallback(frame.ID, *frame.Approved)
		}

	default:
		c.sendFrame(Frame{Type: "error", Content: fmt.Sprintf("unknown frame type %q", frame.Type)})
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsConn) sendFrame(frame Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		return false
	}
}
