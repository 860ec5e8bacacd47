package automator

import (
	"context"
	"fmt"
	"net/url"

	"mailpilot/internal/browser"
	"mailpilot/internal/core"
	"mailpilot/internal/humanize"
)

// sendEmail opens the composer and sends a fresh message.
func (a *Automator) sendEmail(ctx context.Context, page browser.Page, timing *humanize.Timing, p core.SendEmailParams) (map[string]any, error) {
	if err := page.Navigate(ctx, inboxURL); err != nil {
		return nil, fmt.Errorf("navigate to inbox: %w", err)
	}
	if err := page.WaitVisible(ctx, selComposeButton, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("compose button never appeared: %w", err)
	}
	if err := page.Click(ctx, selComposeButton); err != nil {
		return nil, fmt.Errorf("open composer: %w", err)
	}
	if err := page.WaitVisible(ctx, selToField, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("composer never opened: %w", err)
	}

	if err := a.typeText(ctx, page, timing, selToField, p.To); err != nil {
		return nil, err
	}
	if err := page.Press(ctx, "Enter"); err != nil {
		return nil, fmt.Errorf("confirm recipient: %w", err)
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryFieldPause)); err != nil {
		return nil, err
	}
	if err := a.typeText(ctx, page, timing, selSubjectField, p.Subject); err != nil {
		return nil, err
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryFieldPause)); err != nil {
		return nil, err
	}
	if err := a.typeText(ctx, page, timing, selBodyField, p.Body); err != nil {
		return nil, err
	}
	if err := humanize.Sleep(ctx, timing.MaybePause()); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, selSendButton); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryClickSettle)); err != nil {
		return nil, err
	}
	return map[string]any{"to": p.To, "subject": p.Subject, "sent": true}, nil
}

// replyToEmail searches for the newest message from a sender, opens it and
// sends a reply.
func (a *Automator) replyToEmail(ctx context.Context, page browser.Page, timing *humanize.Timing, p core.ReplyParams) (map[string]any, error) {
	if err := a.search(ctx, page, timing, "from:"+p.SearchFrom); err != nil {
		return nil, err
	}
	matches, err := page.Count(ctx, selMessageRow)
	if err != nil {
		return nil, fmt.Errorf("count search results: %w", err)
	}
	if matches == 0 {
		return nil, fmt.Errorf("no messages from %s", p.SearchFrom)
	}
	if err := page.Click(ctx, rowSelector(0)); err != nil {
		return nil, fmt.Errorf("open newest match: %w", err)
	}
	if err := page.WaitVisible(ctx, selReplyButton, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("reply control never appeared: %w", err)
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryRead)); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, selReplyButton); err != nil {
		return nil, fmt.Errorf("open reply: %w", err)
	}
	if err := page.WaitVisible(ctx, selReplyBody, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("reply editor never opened: %w", err)
	}
	if err := a.typeText(ctx, page, timing, selReplyBody, p.ReplyMessage); err != nil {
		return nil, err
	}
	if err := humanize.Sleep(ctx, timing.MaybePause()); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, selSendButton); err != nil {
		return nil, fmt.Errorf("send reply: %w", err)
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryClickSettle)); err != nil {
		return nil, err
	}
	return map[string]any{"replied_to": p.SearchFrom, "sent": true}, nil
}

// reportToInbox finds matching messages in spam and marks them not-spam so
// they move back to the inbox.
func (a *Automator) reportToInbox(ctx context.Context, page browser.Page, timing *humanize.Timing, p core.ReportParams) (map[string]any, error) {
	if err := page.Navigate(ctx, spamURL); err != nil {
		return nil, fmt.Errorf("navigate to spam: %w", err)
	}
	if err := page.WaitVisible(ctx, selInboxContainer, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("spam folder never loaded: %w", err)
	}
	if err := a.search(ctx, page, timing, "in:spam "+p.SearchQuery); err != nil {
		return nil, err
	}
	matches, err := page.Count(ctx, selMessageRow)
	if err != nil {
		return nil, fmt.Errorf("count spam matches: %w", err)
	}
	rescued := 0
	for i := 0; i < matches; i++ {
		// The listing reflows after each rescue, so always take row 0.
		if err := page.Click(ctx, rowSelector(0)); err != nil {
			return nil, fmt.Errorf("open spam match: %w", err)
		}
		if err := page.WaitVisible(ctx, selNotSpam, a.waitTimeout); err != nil {
			return nil, fmt.Errorf("not-spam control never appeared: %w", err)
		}
		if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryRead)); err != nil {
			return nil, err
		}
		if err := page.Click(ctx, selNotSpam); err != nil {
			return nil, fmt.Errorf("mark not spam: %w", err)
		}
		rescued++
		if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryClickSettle)); err != nil {
			return nil, err
		}
	}
	return map[string]any{"search_query": p.SearchQuery, "rescued": rescued}, nil
}

// search runs a webmail search via the hash URL and waits for the listing.
func (a *Automator) search(ctx context.Context, page browser.Page, timing *humanize.Timing, query string) error {
	if err := page.Navigate(ctx, searchURL+url.PathEscape(query)); err != nil {
		return fmt.Errorf("navigate to search: %w", err)
	}
	if err := page.WaitVisible(ctx, selInboxContainer, a.waitTimeout); err != nil {
		return fmt.Errorf("search results never loaded: %w", err)
	}
	return humanize.Sleep(ctx, timing.Delay(humanize.CategoryRead))
}
