// Package events publishes budget state changes to interested consumers.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type names a budget event; it doubles as the AMQP routing key.
type Type string

const (
	// BudgetOverspent is emitted when a budget's first overspend notification is created.
	BudgetOverspent Type = "budget.overspent"
	// BudgetRecovered is emitted when spend drops back within the limit and the
	// notification is removed.
	BudgetRecovered Type = "budget.recovered"
)

// Event is the payload published for a notification change.
type Event struct {
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id"`
	BudgetID   string    `json:"budget_id"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ToJSON encodes the event for the wire.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// NewPublisher returns an AMQP publisher for url, or a NopPublisher when url is empty.
func NewPublisher(url, exchange string) (Publisher, error) {
	if url == "" {
		return NopPublisher{}, nil
	}
	return NewAMQPPublisher(url, exchange)
}
