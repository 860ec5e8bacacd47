// Package automator drives one open browser session through the action
// sequence of a single task, pacing every interaction with the timing model.
package automator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mailpilot/internal/browser"
	"mailpilot/internal/core"
	"mailpilot/internal/humanize"
)

// Automator executes task action sequences against a Page.
type Automator struct {
	logger       *slog.Logger
	waitTimeout  time.Duration
	statusSettle time.Duration
}

// New creates an automator.
func New(logger *slog.Logger) *Automator {
	return &Automator{
		logger:       logger,
		waitTimeout:  defaultWaitTimeout,
		statusSettle: 8 * time.Second,
	}
}

// Execute dispatches the task kind to its action sequence and returns the
// kind-specific payload. Status-probe kinds never return an error for an
// unrecognized page; they fold the observation into the health fields of
// the payload.
func (a *Automator) Execute(ctx context.Context, page browser.Page, timing *humanize.Timing, kind core.TaskKind, params json.RawMessage, creds core.Credentials) (map[string]any, error) {
	switch kind {
	case core.TaskKindLogin:
		if err := a.login(ctx, page, timing, creds); err != nil {
			return nil, err
		}
		return map[string]any{"logged_in": true}, nil
	case core.TaskKindCheckInbox:
		return a.checkInbox(ctx, page, timing)
	case core.TaskKindReadEmail:
		p, err := core.ParseReadEmailParams(params)
		if err != nil {
			return nil, err
		}
		return a.readEmail(ctx, page, timing, p.EmailIndex)
	case core.TaskKindStarEmail:
		p, err := core.ParseStarEmailParams(params)
		if err != nil {
			return nil, err
		}
		return a.starEmail(ctx, page, timing, p.EmailIndex)
	case core.TaskKindSendEmail:
		p, err := core.ParseSendEmailParams(params)
		if err != nil {
			return nil, err
		}
		return a.sendEmail(ctx, page, timing, p)
	case core.TaskKindReplyToEmail:
		p, err := core.ParseReplyParams(params)
		if err != nil {
			return nil, err
		}
		return a.replyToEmail(ctx, page, timing, p)
	case core.TaskKindReportToInbox:
		p, err := core.ParseReportParams(params)
		if err != nil {
			return nil, err
		}
		return a.reportToInbox(ctx, page, timing, p)
	case core.TaskKindCheckAccountStatus:
		return a.checkAccountStatus(ctx, page, timing, creds, false)
	case core.TaskKindSetupAccount:
		return a.checkAccountStatus(ctx, page, timing, creds, true)
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
}

// login signs the account in: identifier, advance, secret, advance, wait for
// the inbox.
func (a *Automator) login(ctx context.Context, page browser.Page, timing *humanize.Timing, creds core.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return fmt.Errorf("profile is missing credentials")
	}
	if err := page.Navigate(ctx, signInURL); err != nil {
		return fmt.Errorf("navigate to sign-in: %w", err)
	}
	// An already-authenticated profile lands straight in the inbox.
	if visible, _ := page.Visible(ctx, selInboxContainer); visible {
		return nil
	}
	if err := page.WaitVisible(ctx, selEmailInput, a.waitTimeout); err != nil {
		return fmt.Errorf("email field never appeared: %w", err)
	}
	if err := a.typeText(ctx, page, timing, selEmailInput, creds.Email); err != nil {
		return err
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryFieldPause)); err != nil {
		return err
	}
	if err := page.Click(ctx, selEmailNext); err != nil {
		return fmt.Errorf("advance past email: %w", err)
	}
	if err := page.WaitVisible(ctx, selPasswordInput, a.waitTimeout); err != nil {
		return fmt.Errorf("password field never appeared: %w", err)
	}
	if err := humanize.Sleep(ctx, timing.MaybePause()); err != nil {
		return err
	}
	if err := a.typeText(ctx, page, timing, selPasswordInput, creds.Password); err != nil {
		return err
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryFieldPause)); err != nil {
		return err
	}
	if err := page.Click(ctx, selPasswordNext); err != nil {
		return fmt.Errorf("advance past password: %w", err)
	}
	if err := page.WaitVisible(ctx, selInboxContainer, a.waitTimeout); err != nil {
		return fmt.Errorf("inbox never loaded after login: %w", err)
	}
	return nil
}

// checkAccountStatus attempts a login and classifies the resulting page.
// The sequence itself always succeeds; the classification carries the
// verdict. setup additionally clears first-run dialogs when the inbox is
// reachable.
func (a *Automator) checkAccountStatus(ctx context.Context, page browser.Page, timing *humanize.Timing, creds core.Credentials, setup bool) (map[string]any, error) {
	loginErr := a.login(ctx, page, timing, creds)
	if loginErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if loginErr != nil {
		a.logger.Debug("login attempt did not reach inbox", "err", loginErr)
	}
	sig := a.observeSignals(ctx, page, loginErr)
	health, message := Classify(sig)

	if setup && health == core.HealthOK {
		if visible, _ := page.Visible(ctx, selOnboardingSkip); visible {
			if err := page.Click(ctx, selOnboardingSkip); err == nil {
				_ = humanize.Sleep(ctx, timing.Delay(humanize.CategoryClickSettle))
			}
		}
	}
	return map[string]any{
		"health":  string(health),
		"message": message,
	}, nil
}

// typeText types a string one keystroke at a time with per-character-class
// delays and occasional thinking pauses.
func (a *Automator) typeText(ctx context.Context, page browser.Page, timing *humanize.Timing, selector, text string) error {
	if err := page.Click(ctx, selector); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	for _, r := range text {
		if err := page.TypeRune(ctx, selector, r); err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		if err := humanize.Sleep(ctx, timing.TypeDelay(r)); err != nil {
			return err
		}
		if err := humanize.Sleep(ctx, timing.MaybePause()); err != nil {
			return err
		}
	}
	return nil
}

// scroll performs one eased scroll gesture of the given distance.
func (a *Automator) scroll(ctx context.Context, page browser.Page, timing *humanize.Timing, distance int) error {
	for _, step := range timing.ScrollSteps(distance) {
		if err := page.ScrollBy(ctx, step.Offset); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if err := humanize.Sleep(ctx, step.Duration); err != nil {
			return err
		}
	}
	return nil
}
