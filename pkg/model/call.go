package model

import "time"

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallAnswered  CallStatus = "answered"
	CallEnded     CallStatus = "ended"
	CallMissed    CallStatus = "missed"
	CallRejected  CallStatus = "rejected"
)

// Terminal reports whether no further transitions are permitted.
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallMissed || s == CallRejected
}

type Call struct {
	ID             string     `bun:",pk" json:"id"`
	ConversationID string     `bun:",notnull" json:"conversationId"`
	CallerID       string     `bun:",notnull" json:"callerId"`
	ReceiverID     string     `bun:",notnull" json:"receiverId"`
	CallType       CallType   `bun:",notnull" json:"callType"`
	Status         CallStatus `bun:",notnull,default:'initiated'" json:"status"`
	StartedAt      *time.Time `bun:",nullzero" json:"startedAt,omitempty"`
	EndedAt        *time.Time `bun:",nullzero" json:"endedAt,omitempty"`
	// Duration is whole seconds between StartedAt and EndedAt, floor-rounded.
	// A call that ended before being answered has none.
	Duration  *int      `bun:",nullzero" json:"duration,omitempty"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// CallChange is the delta a state transition applies. ComputeDuration asks
// the store to derive Duration from the row's own StartedAt and the new
// EndedAt, so two racing enders cannot compute it twice with different ends.
type CallChange struct {
	Status          CallStatus
	StartedAt       *time.Time
	EndedAt         *time.Time
	ComputeDuration bool
}
