// Package domain contains core concepts of the chat relay.
// This file defines persisted room messages and related rules.
// Messages are immutable once accepted by the server.
package domain

import "time"

// Message is one durably stored room chat message.
// ID is assigned by the history store and strictly increases per room,
// in the order the server accepted the broadcasts.
type Message struct {
	ID     int64
	Room   string
	Sender string
	Body   string
	At     time.Time
}
