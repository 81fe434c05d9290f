package domain

import (
	"time"

	"github.com/google/uuid"
)

const MaxChatTextLen = 4096

// ChatMessage is one ChatLog entry. Local marks optimistic entries appended
// before the network saw them.
type ChatMessage struct {
	ID     string    `json:"id"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
	Local  bool      `json:"local,omitempty"`
}

func NewChatMessage(sender, text string, local bool) ChatMessage {
	return ChatMessage{
		ID:     uuid.NewString(),
		Sender: sender,
		Text:   text,
		At:     time.Now(),
		Local:  local,
	}
}
