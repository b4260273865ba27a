// Package memory records run events in process for tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/album-publisher/internal/notify"
)

// Notifier stores delivered events for inspection.
type Notifier struct {
	mu     sync.RWMutex
	events []notify.Event
	err    error
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes every later Notify return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify records event.
func (n *Notifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (n *Notifier) Events() []notify.Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}
