package chat

import (
	"context"

	"github.com/shopspring/decimal"
)

// Main menu labels shown on the reply keyboard.
const (
	LabelCabinet     = "👤 Personal cabinet"
	LabelCooperation = "🤝 Cooperation"
	LabelSupport     = "💬 Support"
	LabelAdminPanel  = "⚙️ Admin panel"
)

var menuLabels = map[string]Kind{
	LabelCabinet:     KindCabinet,
	LabelCooperation: KindCooperation,
	LabelSupport:     KindSupport,
	LabelAdminPanel:  KindAdminPanel,
}

// Currency is appended to every rendered amount.
const Currency = "RUB"

// Update is one inbound action together with the actor that produced it.
type Update struct {
	ActorID  int64
	ChatID   int64
	FullName string
	Username *string
	Action   Action
}

// Button is an inline button. Either Data or URL is set.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Reply is an outbound message. Buttons are attached inline to the message,
// Menu replaces the persistent reply keyboard.
type Reply struct {
	Text    string
	Buttons [][]Button
	Menu    [][]string
}

// Document is an outbound file.
type Document struct {
	Name    string
	Content []byte
	Caption string
}

// Messenger delivers outbound messages through a chat transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, reply Reply) error
	SendDocument(ctx context.Context, chatID int64, doc Document) error
}

// Handler consumes decoded inbound actions.
type Handler interface {
	Handle(ctx context.Context, upd Update)
}

// Text builds a reply without keyboards.
func Text(text string) Reply {
	return Reply{Text: text}
}

// DataButton builds an inline button firing the given action.
func DataButton(label string, kind Kind, arg int64) Button {
	return Button{Label: label, Data: Payload(kind, arg)}
}

// AnswerButton builds an inline button choosing option choice of question number question.
func AnswerButton(label string, question, choice int) Button {
	return Button{Label: label, Data: AnswerPayload(question, choice)}
}

// LinkButton builds an inline button opening a URL.
func LinkButton(label, url string) Button {
	return Button{Label: label, URL: url}
}

// Row groups buttons into one keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

// Money renders an amount with the program currency, dropping zero cents.
func Money(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.Truncate(0).String() + " " + Currency
	}
	return d.StringFixed(2) + " " + Currency
}
