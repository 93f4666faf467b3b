package model

import "time"

type Message struct {
	ID             string    `bun:",pk" json:"id"`
	ConversationID string    `bun:",notnull" json:"conversationId"`
	SenderID       string    `bun:",notnull" json:"senderId"`
	Text           string    `bun:",notnull" json:"text"`
	// Read is the legacy conversation-level flag: true once any non-sender
	// participant has seen the message. ReadBy carries per-user receipts.
	Read      bool      `bun:",notnull,default:false" json:"read"`
	ReadBy    []string  `bun:",array" json:"readBy"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// ReadBy order is not significant; treat it as a set.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
