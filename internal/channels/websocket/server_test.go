package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaybot/relay/internal/approval"
	"github.com/relaybot/relay/pkg/models"
)

type fakeResolver struct {
	mu       sync.Mutex
	id       string
	approved bool
	called   bool
}

func (r *fakeResolver) OnConfirmationCallback(id string, approved bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
	r.approved = approved
	r.called = true
	return true
}

func dial(t *testing.T, srv *httptest.Server, chatID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?chat=" + chatID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}
}

func TestHelloAndInboundMessage(t *testing.T) {
	server := NewServer(nil, nil)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv, "chat-1")

	hello := readFrame(t, conn)
	if hello.Type != "hello" || hello.ChatID != "chat-1" {
		t.Fatalf("hello frame = %+v", hello)
	}

	writeFrame(t, conn, Frame{Type: "message", Content: "hi server"})

	select {
	case msg := <-server.Messages():
		if msg.Channel != models.ChannelWebSocket || msg.ChatID != "chat-1" {
			t.Errorf("message routing fields: %+v", msg)
		}
		if msg.Content != "hi server" || msg.Role != models.RoleUser {
			t.Errorf("message payload: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message not received")
	}
}

func TestOutboundDelivery(t *testing.T) {
	server := NewServer(nil, nil)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv, "chat-2")
	readFrame(t, conn) // hello

	if err := server.SendText(t.Context(), "chat-2", "answer"); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame.Type != "text" || frame.Content != "answer" {
		t.Errorf("text frame = %+v", frame)
	}

	if err := server.SendAttachments(t.Context(), "chat-2", []models.Attachment{{Kind: "image", URL: "http://x/y.png"}}); err != nil {
		t.Fatal(err)
	}
	frame = readFrame(t, conn)
	if frame.Type != "attachments" || len(frame.Attachments) != 1 {
		t.Errorf("attachments frame = %+v", frame)
	}

	if err := server.SendText(t.Context(), "nobody-home", "x"); err == nil {
		t.Error("send to unknown chat succeeded")
	}
}

func TestConfirmationRoundTrip(t *testing.T) {
	resolver := &fakeResolver{}
	server := NewServer(resolver, nil)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv, "chat-3")
	readFrame(t, conn) // hello

	err := server.PresentConfirmation(t.Context(), "chat-3", approval.ConfirmationPrompt{
		ID:       "conf-1",
		ToolName: "shell",
	})
	if err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame.Type != "confirm_request" || frame.ID != "conf-1" || frame.ToolName != "shell" {
		t.Fatalf("confirm_request frame = %+v", frame)
	}

	approved := true
	writeFrame(t, conn, Frame{Type: "confirm", ID: "conf-1", Approved: &approved})

	deadline := time.Now().Add(2 * time.Second)
	for {
		resolver.mu.Lock()
		called := resolver.called
		resolver.mu.Unlock()
		if called {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("resolver not called")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if resolver.id != "conf-1" || !resolver.approved {
		t.Errorf("resolver got id=%q approved=%v", resolver.id, resolver.approved)
	}
}

func TestUnknownFrameType(t *testing.T) {
	server := NewServer(nil, nil)
	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv, "chat-4")
	readFrame(t, conn) // hello

	writeFrame(t, conn, Frame{Type: "bogus"})
	frame := readFrame(t, conn)
	if frame.Type != "error" {
		t.Errorf("frame = %+v, want error", frame)
	}
}
