package automator

import (
	"context"
	"strings"

	"mailpilot/internal/browser"
	"mailpilot/internal/core"
)

// PageSignals are the observations taken from the page after a login
// attempt. At most one of them decides the classification.
type PageSignals struct {
	InboxLoaded     bool
	Suspended       bool
	WrongPassword   bool
	Challenge       bool
	ObservationErr  error
	ObservedHeading string
}

// Classify maps post-login page signals to exactly one health status. It is
// total: every combination of signals lands on a status, and the absence of
// any recognized signal is unknown, not an error.
func Classify(sig PageSignals) (core.HealthStatus, string) {
	switch {
	case sig.ObservationErr != nil:
		return core.HealthError, "status probe failed: " + sig.ObservationErr.Error()
	case sig.Suspended:
		return core.HealthBlocked, "account is suspended or disabled"
	case sig.WrongPassword:
		return core.HealthPasswordRequired, "stored password was rejected"
	case sig.Challenge:
		return core.HealthVerificationRequired, "verification challenge presented"
	case sig.InboxLoaded:
		return core.HealthOK, "inbox reachable"
	default:
		msg := "no recognized page signal"
		if sig.ObservedHeading != "" {
			msg += ": " + sig.ObservedHeading
		}
		return core.HealthUnknown, msg
	}
}

// observeSignals inspects the page that followed a login attempt. Probe
// failures on individual selectors are treated as "signal absent"; only a
// failure to observe anything at all surfaces as ObservationErr.
func (a *Automator) observeSignals(ctx context.Context, page browser.Page, loginErr error) PageSignals {
	var sig PageSignals

	if visible, err := page.Visible(ctx, selInboxContainer); err == nil && visible {
		sig.InboxLoaded = true
		return sig
	} else if err != nil && ctx.Err() != nil {
		sig.ObservationErr = ctx.Err()
		return sig
	}

	if visible, _ := page.Visible(ctx, selSuspendedPage); visible {
		sig.Suspended = true
		return sig
	}
	if visible, _ := page.Visible(ctx, selWrongPassword); visible {
		sig.WrongPassword = true
		return sig
	}
	if visible, _ := page.Visible(ctx, selChallengePage); visible {
		sig.Challenge = true
		return sig
	}

	// A bare "Verify it's you" interstitial has no challenge form yet.
	if heading, err := page.Text(ctx, selVerifyHeading); err == nil {
		sig.ObservedHeading = strings.TrimSpace(heading)
		lower := strings.ToLower(sig.ObservedHeading)
		if strings.Contains(lower, "verify") || strings.Contains(lower, "confirm") {
			sig.Challenge = true
			return sig
		}
	}

	// The login sequence itself may still reach the inbox late.
	if loginErr == nil {
		if err := page.WaitVisible(ctx, selInboxContainer, a.statusSettle); err == nil {
			sig.InboxLoaded = true
		}
	}
	return sig
}
