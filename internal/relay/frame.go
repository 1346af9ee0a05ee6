package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/store"
)

var (
	// ErrMalformedMessage is returned for inbound frames that are not {"author", "text"} objects.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrDeliveryFailed marks a broadcast that could not be queued for one connection.
	ErrDeliveryFailed = errors.New("delivery failed")
)

var validate = validator.New()

// InboundFrame is what a client sends. Both fields must be present as strings;
// their content is not checked.
type InboundFrame struct {
	Author *string `json:"author" validate:"required"`
	Text   *string `json:"text" validate:"required"`
}

// HistoryFrame is sent to a newly connected client for each replayed message.
type HistoryFrame struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ParseInbound decodes a raw client frame.
func ParseInbound(payload []byte) (author, text string, err error) {
	var frame InboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if err := validate.Struct(frame); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return *frame.Author, *frame.Text, nil
}

// NewHistoryFrame converts a stored message to its replay shape.
func NewHistoryFrame(m store.Message) HistoryFrame {
	return HistoryFrame{
		ID:        m.ID,
		Author:    m.Author,
		Text:      m.Text,
		Timestamp: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func historyFrames(messages []store.Message) []HistoryFrame {
	return lo.Map(messages, func(m store.Message, _ int) HistoryFrame {
		return NewHistoryFrame(m)
	})
}
