package telegram

import (
	"testing"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaybot/relay/pkg/models"
)

func TestConvertMessageText(t *testing.T) {
	msg := convertMessage(&tgmodels.Message{
		ID:   42,
		Date: 1700000000,
		Text: "hello",
		Chat: tgmodels.Chat{ID: 12345},
		From: &tgmodels.User{ID: 99},
	})

	if msg.ID != "tg_42" {
		t.Errorf("ID = %q", msg.ID)
	}
	if msg.Channel != models.ChannelTelegram {
		t.Errorf("Channel = %q", msg.Channel)
	}
	if msg.ChatID != "12345" {
		t.Errorf("ChatID = %q", msg.ChatID)
	}
	if msg.SenderID != "99" {
		t.Errorf("SenderID = %q", msg.SenderID)
	}
	if msg.Role != models.RoleUser || msg.Content != "hello" {
		t.Errorf("role/content = %s/%q", msg.Role, msg.Content)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("unexpected attachments: %v", msg.Attachments)
	}
}

func TestConvertMessageVoice(t *testing.T) {
	msg := convertMessage(&tgmodels.Message{
		ID:    7,
		Chat:  tgmodels.Chat{ID: 1},
		Voice: &tgmodels.Voice{FileID: "voice-1", MimeType: "audio/ogg"},
	})

	if len(msg.Attachments) != 1 || msg.Attachments[0].Kind != "voice" {
		t.Fatalf("attachments = %v", msg.Attachments)
	}
	if msg.Attachments[0].MimeType != "audio/ogg" {
		t.Errorf("mime = %q", msg.Attachments[0].MimeType)
	}
	if voice, _ := msg.Metadata["voice"].(bool); !voice {
		t.Error("voice metadata flag not set")
	}
}

func TestConvertMessageAttachmentKinds(t *testing.T) {
	msg := convertMessage(&tgmodels.Message{
		ID:       8,
		Chat:     tgmodels.Chat{ID: 1},
		Photo:    []tgmodels.PhotoSize{{FileID: "photo-1"}},
		Document: &tgmodels.Document{FileID: "doc-1", FileName: "report.pdf", MimeType: "application/pdf"},
		Audio:    &tgmodels.Audio{FileID: "audio-1"},
	})

	kinds := make(map[string]bool)
	for _, att := range msg.Attachments {
		kinds[att.Kind] = true
	}
	for _, want := range []string{"image", "document", "audio"} {
		if !kinds[want] {
			t.Errorf("missing %s attachment in %v", want, msg.Attachments)
		}
	}
}

func TestConfirmDataRoundTrip(t *testing.T) {
	tests := []struct {
		data         string
		wantID       string
		wantApproved bool
		wantOK       bool
	}{
		{confirmData("abc", true), "abc", true, true},
		{confirmData("abc", false), "abc", false, true},
		{"confirm:abc:maybe", "", false, false},
		{"confirm::yes", "", false, false},
		{"other:abc:yes", "", false, false},
	}
	for _, tt := range tests {
		id, approved, ok := parseConfirmData(tt.data)
		if id != tt.wantID || approved != tt.wantApproved || ok != tt.wantOK {
			t.Errorf("parseConfirmData(%q) = %q, %v, %v", tt.data, id, approved, ok)
		}
	}
}

func TestParseChatID(t *testing.T) {
	if _, err := parseChatID("not-a-number"); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
	id, err := parseChatID("-100123")
	if err != nil || id != -100123 {
		t.Errorf("parseChatID = %d, %v", id, err)
	}
}

func TestConfigDefaults(t *testing.T) {
	if _, err := NewAdapter(Config{}, nil, nil); err == nil {
		t.Error("empty token accepted")
	}

	a, err := NewAdapter(Config{Token: "t"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.config.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d", a.config.MaxReconnectAttempts)
	}
}
