package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const transport = "telegram"

// Config holds the Telegram bot settings.
type Config struct {
	Token   string
	Debug   bool
	Timeout int
	Metrics *metrics.Metrics
}

// Client adapts the Telegram Bot API to the chat transport contract.
type Client struct {
	bot     *tgbotapi.BotAPI
	timeout int
	logger  *slog.Logger
	metrics *metrics.Metrics
	handler chat.Handler
}

// New authenticates the bot token.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}

	c := &Client{
		bot:     bot,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "tg"),
		metrics: cfg.Metrics,
	}
	c.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return c, nil
}

// SetHandler registers the consumer of inbound actions.
func (c *Client) SetHandler(handler chat.Handler) {
	c.handler = handler
}

// Run long-polls for updates until ctx is cancelled. Each update is handled
// on its own goroutine.
func (c *Client) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.timeout
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				c.ack(update.CallbackQuery.ID)
			}
			upd, ok := toUpdate(update)
			if !ok || c.handler == nil {
				continue
			}
			go c.handler.Handle(ctx, upd)
		}
	}
}

func (c *Client) ack(callbackID string) {
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		c.logger.Debug("failed to answer callback", "error", err)
	}
}

// toUpdate converts a Telegram update into an action. Callback data carries a
// button payload; messages go through the text decoder.
func toUpdate(update tgbotapi.Update) (chat.Update, bool) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
			return chat.Update{}, false
		}
		return chat.Update{
			ActorID:  cb.From.ID,
			ChatID:   cb.Message.Chat.ID,
			FullName: fullName(cb.From),
			Username: username(cb.From),
			Action:   chat.Decode(cb.Data),
		}, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() || msg.Text == "" {
			return chat.Update{}, false
		}
		return chat.Update{
			ActorID:  msg.From.ID,
			ChatID:   msg.Chat.ID,
			FullName: fullName(msg.From),
			Username: username(msg.From),
			Action:   chat.DecodeText(msg.Text),
		}, true
	}
	return chat.Update{}, false
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func username(u *tgbotapi.User) *string {
	if u.UserName == "" {
		return nil
	}
	name := u.UserName
	return &name
}

// Send delivers a reply with its inline or reply keyboard.
func (c *Client) Send(_ context.Context, chatID int64, reply chat.Reply) error {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if markup := replyMarkup(reply); markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues(transport, "text").Inc()
	}
	return nil
}

// SendDocument uploads an in-memory file.
func (c *Client) SendDocument(_ context.Context, chatID int64, doc chat.Document) error {
	msg := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: doc.Name, Bytes: doc.Content})
	msg.Caption = doc.Caption
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues(transport, "document").Inc()
	}
	return nil
}

// replyMarkup picks the keyboard for a reply. Telegram allows one markup per
// message, so inline buttons win over the menu.
func replyMarkup(reply chat.Reply) any {
	if len(reply.Buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(reply.Buttons))
		for _, row := range reply.Buttons {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				if b.URL != "" {
					buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
				} else {
					buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
				}
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
		return tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	if len(reply.Menu) > 0 {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(reply.Menu))
		for _, row := range reply.Menu {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
		}
		keyboard := tgbotapi.NewReplyKeyboard(rows...)
		keyboard.ResizeKeyboard = true
		return keyboard
	}
	return nil
}
