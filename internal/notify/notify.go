// Package notify announces finished runs to downstream consumers.
package notify

import (
	"context"
	"time"
)

// Event describes the outcome of one processed row.
type Event struct {
	RunID       string    `json:"run_id"`
	Row         int       `json:"row"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind"`
	Location    string    `json:"location,omitempty"`
	Assets      int       `json:"assets"`
	Screenshots int       `json:"screenshots"`
	At          time.Time `json:"at"`
}

// Notifier delivers events. Delivery failures never change a row's status.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }
