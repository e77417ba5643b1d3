package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Flow identifies the multi-step interaction a session belongs to.
type Flow string

const (
	FlowQuiz       Flow = "quiz"
	FlowPromo      Flow = "promo"
	FlowWithdraw   Flow = "withdraw"
	FlowReject     Flow = "reject"
	FlowManualEdit Flow = "manual_edit"
	FlowSearch     Flow = "search"
)

// AdminOnly reports whether the flow is reserved for administrators.
func (f Flow) AdminOnly() bool {
	switch f {
	case FlowReject, FlowManualEdit, FlowSearch:
		return true
	}
	return false
}

// Step is the cursor inside a flow.
type Step string

const (
	StepAwaitingName            Step = "awaiting-name"
	StepAwaitingAnswer          Step = "awaiting-answer"
	StepAwaitingPromoCode       Step = "awaiting-promo-code"
	StepAwaitingAmount          Step = "awaiting-amount"
	StepAwaitingRequisites      Step = "awaiting-requisites"
	StepAwaitingComment         Step = "awaiting-comment"
	StepAwaitingReason          Step = "awaiting-reason"
	StepAwaitingManualReferrals Step = "awaiting-manual-referrals"
	StepAwaitingManualBalance   Step = "awaiting-manual-balance"
	StepAwaitingSearch          Step = "awaiting-search"
)

// Session is the in-progress state of one partner's multi-step interaction.
type Session struct {
	ID        uuid.UUID         `json:"id"`
	PartnerID int64             `json:"partner_id"`
	Flow      Flow              `json:"flow"`
	Step      Step              `json:"step"`
	Fields    map[string]string `json:"fields,omitempty"`
	Answers   []int             `json:"answers,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New starts a session at the given step.
func New(partnerID int64, flow Flow, step Step) *Session {
	return &Session{
		ID:        uuid.New(),
		PartnerID: partnerID,
		Flow:      flow,
		Step:      step,
		Fields:    make(map[string]string),
		UpdatedAt: time.Now(),
	}
}

// Set stores a collected field value.
func (s *Session) Set(key, value string) {
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	s.Fields[key] = value
}

// Get returns a collected field value.
func (s *Session) Get(key string) string {
	return s.Fields[key]
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Fields = make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	c.Answers = append([]int(nil), s.Answers...)
	return &c
}

// Store keeps at most one session per partner. Get returns nil, nil when the
// partner has no session.
type Store interface {
	Get(ctx context.Context, partnerID int64) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, partnerID int64) error
}
