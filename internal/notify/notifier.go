// Package notify pushes operator alerts for events that need a human:
// an account probe coming back blocked, or a drain cycle ending badly.
package notify

import (
	"context"
)

// Notifier sends one operator notification.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers, returning
// the last error after trying all of them.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoOpNotifier does nothing. Used when no notification channel is
// configured.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, title, body string) error {
	return nil
}
