// Package telegram adapts Telegram to the unified channel ports: inbound
// updates become unified messages, and the adapter doubles as the outgoing
// sink and the confirmation presenter for Telegram chats.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaybot/relay/internal/approval"
	"github.com/relaybot/relay/internal/channels"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/pkg/models"
)

const (
	// Telegram rejects messages over 4096 characters.
	maxMessageLength = 4096

	inboundBuffer = 100

	// confirmPrefix tags inline-keyboard callback data carrying a
	// confirmation verdict: "confirm:<id>:yes" or "confirm:<id>:no".
	confirmPrefix = "confirm:"
)

// ConfirmationResolver receives approve/deny verdicts from inline keyboards.
type ConfirmationResolver interface {
	OnConfirmationCallback(id string, approved bool) bool
}

// Config holds the Telegram adapter settings.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

func (c *Config) validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	return nil
}

// Adapter is the Telegram channel adapter. It implements channels.Adapter
// for the inbound side, respond.Sink for delivery, and approval.Presenter
// for tool confirmations.
type Adapter struct {
	config   Config
	bot      *bot.Bot
	resolver ConfirmationResolver
	chunker  *channels.Chunker
	messages chan *models.Message
	log      *observability.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	statusMu sync.RWMutex
	status   channels.Status
}

// NewAdapter creates a Telegram adapter. The resolver may be nil when tool
// confirmations are disabled.
func NewAdapter(config Config, resolver ConfirmationResolver, log *observability.Logger) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Adapter{
		config:   config,
		resolver: resolver,
		chunker:  channels.NewChunker(maxMessageLength),
		messages: make(chan *models.Message, inboundBuffer),
		log:      log,
	}, nil
}

// Start connects the bot and begins long polling in the background.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	b, err := bot.New(a.config.Token)
	if err != nil {
		a.updateStatus(false, err.Error())
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b

	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleUpdate)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, confirmPrefix, bot.MatchTypePrefix, a.handleCallback)

	a.wg.Add(1)
	go a.runWithReconnect(ctx)

	a.log.Info(ctx, "telegram adapter started")
	return nil
}

func (a *Adapter) runWithReconnect(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.messages)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			a.updateStatus(false, "")
			return
		default:
		}

		a.updateStatus(true, "")
		a.bot.Start(ctx)
		if ctx.Err() != nil {
			a.updateStatus(false, "")
			return
		}

		attempts++
		a.updateStatus(false, fmt.Sprintf("polling stopped (attempt %d/%d)", attempts, a.config.MaxReconnectAttempts))
		if attempts >= a.config.MaxReconnectAttempts {
			a.log.Error(ctx, "telegram reconnect attempts exhausted", "attempts", attempts)
			return
		}

		select {
		case <-ctx.Done():
			a.updateStatus(false, "")
			return
		case <-time.After(a.config.ReconnectDelay):
			a.log.Info(ctx, "telegram reconnecting", "attempt", attempts)
		}
	}
}

// Stop shuts down polling and waits for the receive loop to drain.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: stop: %w", ctx.Err())
	}
}

// Messages returns the inbound stream.
func (a *Adapter) Messages() <-chan *models.Message {
	return a.messages
}

// Type returns the telegram channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelTelegram
}

// Channel identifies this sink to the response router.
func (a *Adapter) Channel() models.ChannelType {
	return models.ChannelTelegram
}

// Status returns the connection state.
func (a *Adapter) Status() channels.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}
	msg := convertMessage(update.Message)

	select {
	case a.messages <- msg:
		a.touchPing()
	case <-ctx.Done():
	default:
		a.log.Warn(ctx, "telegram inbound buffer full, dropping message", "chat_id", msg.ChatID)
	}
}

func (a *Adapter) handleCallback(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	id, approved, ok := parseConfirmData(cq.Data)

	ack := "This confirmation has expired."
	if ok && a.resolver != nil && a.resolver.OnConfirmationCallback(id, approved) {
		if approved {
			ack = "Approved."
		} else {
			ack = "Denied."
		}
	}
	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            ack,
	}); err != nil {
		a.log.Warn(ctx, "telegram callback answer failed", "error", err)
	}
}

// SendText delivers text, split to fit Telegram's message limit.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, chunk := range a.chunker.Chunk(text) {
		if _, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: id, Text: chunk}); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

// SendVoice delivers the spoken-form text. Synthesis happens upstream when
// available; here the text itself is the payload.
func (a *Adapter) SendVoice(ctx context.Context, chatID, text string) error {
	return a.SendText(ctx, chatID, text)
}

// SendAttachments delivers attachments one by one, by kind.
func (a *Adapter) SendAttachments(ctx context.Context, chatID string, attachments []models.Attachment) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, att := range attachments {
		if err := a.sendAttachment(ctx, id, att); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendAttachment(ctx context.Context, chatID int64, att models.Attachment) error {
	file := inputFile(att)
	var err error
	switch att.Kind {
	case "image":
		_, err = a.bot.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatID, Photo: file})
	case "audio", "voice":
		_, err = a.bot.SendAudio(ctx, &bot.SendAudioParams{ChatID: chatID, Audio: file})
	default:
		_, err = a.bot.SendDocument(ctx, &bot.SendDocumentParams{ChatID: chatID, Document: file})
	}
	if err != nil {
		return fmt.Errorf("telegram: send %s attachment: %w", att.Kind, err)
	}
	return nil
}

func inputFile(att models.Attachment) tgmodels.InputFile {
	if att.URL != "" {
		return &tgmodels.InputFileString{Data: att.URL}
	}
	name := att.Name
	if name == "" {
		name = "attachment"
	}
	return &tgmodels.InputFileUpload{Filename: name, Data: bytes.NewReader(att.Data)}
}

// PresentConfirmation sends the tool prompt with approve/deny buttons whose
// callback data carries the confirmation id.
func (a *Adapter) PresentConfirmation(ctx context.Context, chatID string, prompt approval.ConfirmationPrompt) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Allow the %s tool to run?", prompt.ToolName)
	if prompt.Description != "" {
		text += "\n\n" + prompt.Description
	}
	_, err = a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: id,
		Text:   text,
		ReplyMarkup: &tgmodels.InlineKeyboardMarkup{
			InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
				{Text: "Approve", CallbackData: confirmData(prompt.ID, true)},
				{Text: "Deny", CallbackData: confirmData(prompt.ID, false)},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("telegram: present confirmation: %w", err)
	}
	return nil
}

func (a *Adapter) updateStatus(connected bool, errMsg string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.Connected = connected
	a.status.Error = errMsg
}

func (a *Adapter) touchPing() {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.LastPing = time.Now().Unix()
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", chatID)
	}
	return id, nil
}

func confirmData(id string, approved bool) string {
	verdict := "no"
	if approved {
		verdict = "yes"
	}
	return confirmPrefix + id + ":" + verdict
}

func parseConfirmData(data string) (id string, approved, ok bool) {
	rest, found := strings.CutPrefix(data, confirmPrefix)
	if !found {
		return "", false, false
	}
	id, verdict, found := strings.Cut(rest, ":")
	if !found || id == "" {
		return "", false, false
	}
	switch verdict {
	case "yes":
		return id, true, true
	case "no":
		return id, false, true
	}
	return "", false, false
}

// convertMessage maps a Telegram message to the unified format.
func convertMessage(msg *tgmodels.Message) *models.Message {
	out := &models.Message{
		ID:        fmt.Sprintf("tg_%d", msg.ID),
		Channel:   models.ChannelTelegram,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Role:      models.RoleUser,
		Content:   msg.Text,
		CreatedAt: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		out.SenderID = strconv.FormatInt(msg.From.ID, 10)
	}

	var attachments []models.Attachment
	if len(msg.Photo) > 0 {
		attachments = append(attachments, models.Attachment{
			ID:   msg.Photo[0].FileID,
			Kind: "image",
			URL:  msg.Photo[0].FileID,
		})
	}
	if msg.Document != nil {
		attachments = append(attachments, models.Attachment{
			ID:       msg.Document.FileID,
			Kind:     "document",
			URL:      msg.Document.FileID,
			Name:     msg.Document.FileName,
			MimeType: msg.Document.MimeType,
		})
	}
	if msg.Audio != nil {
		attachments = append(attachments, models.Attachment{
			ID:   msg.Audio.FileID,
			Kind: "audio",
			URL:  msg.Audio.FileID,
		})
	}
	if msg.Voice != nil {
		attachments = append(attachments, models.Attachment{
			ID:       msg.Voice.FileID,
			Kind:     "voice",
			URL:      msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
		})
		out.Metadata = map[string]any{"voice": true}
	}
	if len(attachments) > models.MaxInboundAttachments {
		attachments = attachments[:models.MaxInboundAttachments]
	}
	out.Attachments = attachments
	return out
}
