package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"partner-bot/internal/chat"
	"partner-bot/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

const transport = "whatsapp"

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	Metrics   *metrics.Metrics
}

// Client wraps the WhatsMeow client. Partners are identified by the numeric
// user part of their JID. WhatsApp has no inline keyboards, so buttons are
// rendered as slash commands the partner can type back.
type Client struct {
	client  *whatsmeow.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	handler chat.Handler
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// SetHandler registers the consumer of inbound actions.
func (c *Client) SetHandler(handler chat.Handler) {
	c.handler = handler
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	upd, ok := toUpdate(evt.Info, messageText(evt.Message))
	if !ok {
		c.logger.Debug("ignoring message", "from", evt.Info.Sender.String())
		return
	}
	if c.handler != nil {
		go c.handler.Handle(context.Background(), upd)
	}
}

func messageText(msg *waProto.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		return msg.GetExtendedTextMessage().GetText()
	}
	return ""
}

// toUpdate converts an inbound text message. Messages without text or from
// a non-numeric JID are dropped.
func toUpdate(info types.MessageInfo, text string) (chat.Update, bool) {
	if strings.TrimSpace(text) == "" {
		return chat.Update{}, false
	}
	id, err := strconv.ParseInt(info.Sender.ToNonAD().User, 10, 64)
	if err != nil || id <= 0 {
		return chat.Update{}, false
	}
	return chat.Update{
		ActorID:  id,
		ChatID:   id,
		FullName: info.PushName,
		Action:   chat.DecodeText(text),
	}, true
}

// Render flattens a reply into plain text. Data buttons become slash commands
// and the menu is listed at the bottom.
func Render(reply chat.Reply) string {
	var b strings.Builder
	b.WriteString(reply.Text)

	if len(reply.Buttons) > 0 {
		b.WriteString("\n")
		for _, row := range reply.Buttons {
			for _, btn := range row {
				switch {
				case btn.URL != "":
					fmt.Fprintf(&b, "\n%s: %s", btn.Label, btn.URL)
				case btn.Data != "":
					fmt.Fprintf(&b, "\n%s: /%s", btn.Label, btn.Data)
				}
			}
		}
	}

	if len(reply.Menu) > 0 {
		labels := make([]string, 0, 4)
		for _, row := range reply.Menu {
			labels = append(labels, row...)
		}
		fmt.Fprintf(&b, "\n\nMenu: %s", strings.Join(labels, " | "))
	}
	return b.String()
}

func jidFor(chatID int64) types.JID {
	return types.NewJID(strconv.FormatInt(chatID, 10), types.DefaultUserServer)
}

// Send delivers a rendered reply.
func (c *Client) Send(ctx context.Context, chatID int64, reply chat.Reply) error {
	message := &waProto.Message{
		Conversation: proto.String(Render(reply)),
	}
	if _, err := c.client.SendMessage(ctx, jidFor(chatID), message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues(transport, "text").Inc()
	}
	return nil
}

// SendDocument uploads and sends a file.
func (c *Client) SendDocument(ctx context.Context, chatID int64, doc chat.Document) error {
	if len(doc.Content) == 0 {
		return errors.New("send document: empty content")
	}
	uploadResp, err := c.client.Upload(ctx, doc.Content, whatsmeow.MediaDocument)
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}

	docMsg := &waProto.DocumentMessage{
		URL:           proto.String(uploadResp.URL),
		DirectPath:    proto.String(uploadResp.DirectPath),
		MediaKey:      uploadResp.MediaKey,
		FileEncSHA256: uploadResp.FileEncSHA256,
		FileSHA256:    uploadResp.FileSHA256,
		FileLength:    proto.Uint64(uploadResp.FileLength),
		Mimetype:      proto.String("text/csv"),
		FileName:      proto.String(doc.Name),
		Title:         proto.String(doc.Name),
	}
	if doc.Caption != "" {
		docMsg.Caption = proto.String(doc.Caption)
	}

	if _, err := c.client.SendMessage(ctx, jidFor(chatID), &waProto.Message{DocumentMessage: docMsg}); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues(transport, "document").Inc()
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
