package chat

import (
	"strconv"
	"strings"
)

// Kind enumerates every inbound action the bot understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindText
	KindCabinet
	KindCooperation
	KindSupport
	KindStats
	KindWithdraw
	KindStartTest
	KindAnswer
	KindCreatePromo
	KindArticle
	KindMaterials
	KindSkip
	KindBackToMain
	KindBackToCooperation

	KindAdminPanel
	KindPartnersTable
	KindSearchPartner
	KindWithdrawalLog
	KindExportData
	KindAddReferral
	KindAddBalance
	KindEditManual
	KindCompleteWithdrawal
	KindRejectWithdrawal
	KindCancelReject
	KindBackToAdmin
)

// payload names used in button data. Kinds carrying an argument are encoded as name_<arg>.
var kindNames = map[Kind]string{
	KindStart:              "start",
	KindText:               "text",
	KindCabinet:            "cabinet",
	KindCooperation:        "cooperation",
	KindSupport:            "support",
	KindStats:              "stats",
	KindWithdraw:           "withdraw",
	KindStartTest:          "start_test",
	KindAnswer:             "answer",
	KindCreatePromo:        "create_promo",
	KindArticle:            "article",
	KindMaterials:          "materials",
	KindSkip:               "skip",
	KindBackToMain:         "back_to_main",
	KindBackToCooperation:  "back_to_cooperation",
	KindAdminPanel:         "admin_panel",
	KindPartnersTable:      "partners_table",
	KindSearchPartner:      "search_partner",
	KindWithdrawalLog:      "withdrawal_log",
	KindExportData:         "export_data",
	KindAddReferral:        "add_ref",
	KindAddBalance:         "add_balance",
	KindEditManual:         "edit_manual",
	KindCompleteWithdrawal: "complete_withdrawal",
	KindRejectWithdrawal:   "reject_withdrawal",
	KindCancelReject:       "cancel_reject",
	KindBackToAdmin:        "back_to_admin",
}

var withArg = map[Kind]bool{
	KindAddReferral:        true,
	KindAddBalance:         true,
	KindEditManual:         true,
	KindCompleteWithdrawal: true,
	KindRejectWithdrawal:   true,
}

var kindsByName = func() map[string]Kind {
	out := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		out[name] = k
	}
	return out
}()

// String returns the payload name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// AdminOnly reports whether the action is restricted to administrators.
func (k Kind) AdminOnly() bool {
	return k >= KindAdminPanel
}

// Action is a decoded inbound action. Arg carries the numeric suffix of
// parameterised kinds (answer index, partner id or withdrawal id). Question
// is the 1-based number of the question an answer belongs to.
type Action struct {
	Kind     Kind
	Arg      int64
	Question int
	Text     string
}

// Payload encodes a kind and its argument as button data.
func Payload(kind Kind, arg int64) string {
	name := kind.String()
	if withArg[kind] {
		return name + "_" + strconv.FormatInt(arg, 10)
	}
	return name
}

// AnswerPayload encodes the choice made on a numbered question as answer_<q>_<i>.
func AnswerPayload(question, choice int) string {
	return KindAnswer.String() + "_" + strconv.Itoa(question) + "_" + strconv.Itoa(choice)
}

// Decode parses button data produced by Payload or AnswerPayload.
func Decode(payload string) Action {
	payload = strings.TrimSpace(payload)
	if rest, ok := strings.CutPrefix(payload, KindAnswer.String()+"_"); ok {
		return decodeAnswer(payload, rest)
	}
	if kind, ok := kindsByName[payload]; ok && !withArg[kind] && kind != KindAnswer {
		return Action{Kind: kind}
	}

	idx := strings.LastIndex(payload, "_")
	if idx <= 0 || idx == len(payload)-1 {
		return Action{Kind: KindUnknown, Text: payload}
	}
	kind, ok := kindsByName[payload[:idx]]
	if !ok || !withArg[kind] {
		return Action{Kind: KindUnknown, Text: payload}
	}
	arg, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil || arg < 0 {
		return Action{Kind: KindUnknown, Text: payload}
	}
	return Action{Kind: kind, Arg: arg}
}

func decodeAnswer(payload, rest string) Action {
	q, i, ok := strings.Cut(rest, "_")
	if !ok {
		return Action{Kind: KindUnknown, Text: payload}
	}
	question, err := strconv.Atoi(q)
	if err != nil || question < 1 {
		return Action{Kind: KindUnknown, Text: payload}
	}
	choice, err := strconv.Atoi(i)
	if err != nil || choice < 0 {
		return Action{Kind: KindUnknown, Text: payload}
	}
	return Action{Kind: KindAnswer, Arg: int64(choice), Question: question}
}

// DecodeText parses a typed message: slash commands, main menu labels, and
// anything else as free text input.
func DecodeText(text string) Action {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "/") {
		cmd := strings.TrimPrefix(trimmed, "/")
		if i := strings.IndexAny(cmd, " @"); i >= 0 {
			cmd = cmd[:i]
		}
		switch strings.ToLower(cmd) {
		case "start":
			return Action{Kind: KindStart}
		case "admin":
			return Action{Kind: KindAdminPanel}
		}
		if a := Decode(strings.ToLower(cmd)); a.Kind != KindUnknown && a.Kind != KindText {
			return a
		}
	}

	if kind, ok := menuLabels[trimmed]; ok {
		return Action{Kind: kind}
	}
	return Action{Kind: KindText, Text: trimmed}
}
