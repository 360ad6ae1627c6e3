package notifications

import (
	"context"
	"fmt"
	"time"
)

// Sink delivers a formatted message to one channel. channelRef is sink specific:
// a webhook URL, a Telegram chat id, an e-mail address.
type Sink interface {
	Send(ctx context.Context, channelRef string, msg Message) error
}

// Message is a rendered notification, independent of the delivery channel.
type Message struct {
	Content     string // plain text shown above the card, e.g. role mentions
	Title       string
	URL         string
	Description string
	Fields      []Field
	Color       int
	Footer      string
	Timestamp   time.Time
}

// Field is a short labelled value attached to a Message.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DeliveryError reports that a sink rejected a message.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
