package model

import "time"

// Conversation is a fixed set of participants. The participant set is never
// mutated after creation.
type Conversation struct {
	ID           string    `bun:",pk" json:"id"`
	Participants []string  `bun:",array,notnull" json:"participants"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
