package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/chat-relay/internal/config"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
)

const (
	maxVoiceBytes = 20 << 20
	retryDelay    = 3 * time.Second
	voiceFormat   = "ogg"
)

// Bot long-polls Telegram and feeds every message through the relay.
type Bot struct {
	client      *Client
	relay       *relay.Orchestrator
	pollTimeout int
	dropPending bool
	thinking    string

	queue *dispatcher
}

// NewBot creates a bot for the given client and orchestrator.
func NewBot(client *Client, orchestrator *relay.Orchestrator, cfg config.TelegramConfig) *Bot {
	b := &Bot{
		client:      client,
		relay:       orchestrator,
		pollTimeout: cfg.PollTimeout,
		dropPending: cfg.DropPending,
		thinking:    cfg.ThinkingText,
	}
	b.queue = newDispatcher(b.HandleUpdate)
	return b
}

// Run polls until ctx is cancelled, then waits for queued updates. Updates
// are handed to a per-user FIFO worker, so one user's messages are answered
// in the order they were sent while different users run concurrently.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.client.DeleteWebhook(ctx, b.dropPending); err != nil {
		return fmt.Errorf("failed to switch bot to polling: %w", err)
	}
	log.Printf("[telegram] polling started (timeout=%ds)", b.pollTimeout)

	defer b.queue.Wait()

	var offset int64
	for {
		updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[telegram] polling stopped")
				return nil
			}
			log.Printf("[telegram] getUpdates failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			// 同一用户的消息按到达顺序串行处理
			b.queue.Enqueue(ctx, senderID(update.Message), update)
		}
	}
}

// HandleUpdate processes one update; panics are logged, never propagated.
func (b *Bot) HandleUpdate(ctx context.Context, update Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[telegram] panic handling update %d: %v\n%s", update.UpdateID, r, debug.Stack())
		}
	}()

	msg := update.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := senderID(msg)

	switch command(msg.Text) {
	case "/start":
		b.sendText(ctx, chatID, b.relay.Greeting(), "")
		return
	case "/reset":
		b.deliverLogged(ctx, chatID, b.relay.Reset(userID))
		return
	}

	var input relay.Input
	switch {
	case msg.Voice != nil:
		b.notifyThinking(ctx, chatID)
		data, err := b.downloadVoice(ctx, msg.Voice)
		if err != nil {
			log.Printf("[telegram] failed to fetch voice note for user=%s: %v", userID, err)
			b.sendText(ctx, chatID, relay.NotRecognizedText, "")
			return
		}
		input = relay.AudioInput(data, voiceFormat)
	case strings.TrimSpace(msg.Text) != "":
		b.notifyThinking(ctx, chatID)
		input = relay.TextInput(msg.Text)
	default:
		return
	}

	err := b.relay.HandleStream(ctx, userID, input, func(out relay.Outbound) error {
		return b.deliver(ctx, chatID, out)
	})
	if err != nil {
		var inputErr *relay.InputError
		var inferenceErr *relay.InferenceError
		if errors.As(err, &inputErr) || errors.As(err, &inferenceErr) {
			log.Printf("[telegram] exchange for user=%s ended with: %v", userID, err)
			return
		}
		log.Printf("[telegram] failed to handle message for user=%s: %v", userID, err)
	}
}

func (b *Bot) notifyThinking(ctx context.Context, chatID int64) {
	if b.thinking != "" {
		b.sendText(ctx, chatID, b.thinking, "")
	}
	if err := b.client.SendChatAction(ctx, chatID, "typing"); err != nil {
		log.Printf("[telegram] sendChatAction failed: %v", err)
	}
}

func (b *Bot) downloadVoice(ctx context.Context, voice *Voice) ([]byte, error) {
	if voice.FileSize > maxVoiceBytes {
		return nil, fmt.Errorf("voice note too large: %d bytes", voice.FileSize)
	}
	file, err := b.client.GetFile(ctx, voice.FileID)
	if err != nil {
		return nil, err
	}
	return b.client.Download(ctx, file.FilePath, maxVoiceBytes)
}

func (b *Bot) deliver(ctx context.Context, chatID int64, out relay.Outbound) error {
	switch out.Kind {
	case relay.KindAudio:
		if err := b.client.SendChatAction(ctx, chatID, "upload_voice"); err != nil {
			log.Printf("[telegram] sendChatAction failed: %v", err)
		}
		return b.client.SendAudio(ctx, chatID, out.Audio)
	default:
		return b.client.SendMessage(ctx, chatID, out.Text, string(out.ParseMode))
	}
}

func (b *Bot) deliverLogged(ctx context.Context, chatID int64, out relay.Outbound) {
	if err := b.deliver(ctx, chatID, out); err != nil {
		log.Printf("[telegram] delivery to chat=%d failed: %v", chatID, err)
	}
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text, parseMode string) {
	if err := b.client.SendMessage(ctx, chatID, text, parseMode); err != nil {
		log.Printf("[telegram] sendMessage to chat=%d failed: %v", chatID, err)
	}
}

// senderID keys sessions by the author, falling back to the chat.
func senderID(msg *Message) string {
	if msg.From != nil {
		return strconv.FormatInt(msg.From.ID, 10)
	}
	return strconv.FormatInt(msg.Chat.ID, 10)
}

// command returns the bot command in text ("/start@my_bot now" -> "/start").
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name, _, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}
