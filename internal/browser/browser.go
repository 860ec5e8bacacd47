// Package browser defines the contract between the automator and a running
// browser profile. Vendor-specific launch protocols stay behind the
// SessionManager; the automator only sees a Page.
package browser

import (
	"context"
	"time"
)

// Page is the set of interaction primitives an open session exposes. Every
// call must respect ctx and return within a bounded time.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until the selector matches a visible element or
	// the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Visible(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Hover(ctx context.Context, selector string) error
	// TypeRune sends a single keystroke into the focused element; the
	// automator paces calls with the timing model.
	TypeRune(ctx context.Context, selector string, r rune) error
	Press(ctx context.Context, key string) error
	ScrollBy(ctx context.Context, dy int) error
	Text(ctx context.Context, selector string) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	URL(ctx context.Context) (string, error)
}

// Session is one open browser session for one profile.
type Session struct {
	ProfileID string
	Page      Page
	closeFn   func() error
	closed    bool
}

// NewSession wraps a page and its teardown function.
func NewSession(profileID string, page Page, closeFn func() error) *Session {
	return &Session{ProfileID: profileID, Page: page, closeFn: closeFn}
}

// Close tears the session down. Safe to call more than once and after a
// partial failure.
func (s *Session) Close() error {
	if s == nil || s.closed || s.closeFn == nil {
		return nil
	}
	s.closed = true
	return s.closeFn()
}

// Kind mirrors the profile kinds the session provider understands.
type Kind string

const (
	KindCloud Kind = "cloud"
	KindLocal Kind = "local"
)

// SessionManager opens sessions for profiles. Implementations cover the
// cloud-hosted and locally-fenced profile kinds; the vendor launch protocol
// stays behind this boundary.
type SessionManager interface {
	Open(ctx context.Context, profileID string, kind Kind) (*Session, error)
}
