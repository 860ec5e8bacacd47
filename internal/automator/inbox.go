package automator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"mailpilot/internal/browser"
	"mailpilot/internal/humanize"
)

// EmailSummary is one row of the inbox listing.
type EmailSummary struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Time    string `json:"time"`
	Unread  bool   `json:"unread"`
}

func rowSelector(index int) string {
	// nth-of-type is 1-based.
	return fmt.Sprintf("%s:nth-of-type(%d)", selMessageRow, index+1)
}

// checkInbox scrolls through the inbox and extracts the unread count plus a
// bounded list of message summaries.
func (a *Automator) checkInbox(ctx context.Context, page browser.Page, timing *humanize.Timing) (map[string]any, error) {
	if err := page.Navigate(ctx, inboxURL); err != nil {
		return nil, fmt.Errorf("navigate to inbox: %w", err)
	}
	if err := page.WaitVisible(ctx, selInboxContainer, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("inbox never loaded: %w", err)
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryRead)); err != nil {
		return nil, err
	}
	if err := a.scroll(ctx, page, timing, 400); err != nil {
		return nil, err
	}

	unread, err := page.Count(ctx, selUnreadRow)
	if err != nil {
		return nil, fmt.Errorf("count unread rows: %w", err)
	}
	total, err := page.Count(ctx, selMessageRow)
	if err != nil {
		return nil, fmt.Errorf("count message rows: %w", err)
	}

	limit := total
	if limit > maxInboxSummaries {
		limit = maxInboxSummaries
	}
	summaries := make([]EmailSummary, 0, limit)
	for i := 0; i < limit; i++ {
		row := rowSelector(i)
		summary := EmailSummary{}
		if text, err := page.Text(ctx, row+" "+selRowSender); err == nil {
			summary.Sender = strings.TrimSpace(text)
		}
		if text, err := page.Text(ctx, row+" "+selRowSubject); err == nil {
			summary.Subject = strings.TrimSpace(text)
		}
		if text, err := page.Text(ctx, row+" "+selRowTime); err == nil {
			summary.Time = strings.TrimSpace(text)
		}
		if i < unread {
			summary.Unread = true
		}
		summaries = append(summaries, summary)
	}

	return map[string]any{
		"unread_count": unread,
		"total_shown":  total,
		"emails":       summaries,
	}, nil
}

// readEmail opens the Nth message row, skims the body and navigates back.
func (a *Automator) readEmail(ctx context.Context, page browser.Page, timing *humanize.Timing, index int) (map[string]any, error) {
	if err := a.openRow(ctx, page, timing, index); err != nil {
		return nil, err
	}
	if err := page.WaitVisible(ctx, selMessageBody, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("message body never appeared: %w", err)
	}

	subject, _ := page.Text(ctx, selMessageSubject)
	sender, _ := page.Text(ctx, selMessageSender)
	body, err := page.Text(ctx, selMessageBody)
	if err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}

	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryRead)); err != nil {
		return nil, err
	}
	if err := a.scroll(ctx, page, timing, 600); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, selBackToInbox); err != nil {
		// Falling back to direct navigation still restores the listing.
		if navErr := page.Navigate(ctx, inboxURL); navErr != nil {
			return nil, fmt.Errorf("return to inbox: %w", navErr)
		}
	}

	const bodyLimit = 500
	trimmed := strings.TrimSpace(body)
	if len(trimmed) > bodyLimit {
		// Cut on a rune boundary so a multi-byte character is never split.
		cut := bodyLimit
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut]
	}
	return map[string]any{
		"email_index": index,
		"subject":     strings.TrimSpace(subject),
		"sender":      strings.TrimSpace(sender),
		"body":        trimmed,
	}, nil
}

// starEmail hovers the Nth row and toggles its star control.
func (a *Automator) starEmail(ctx context.Context, page browser.Page, timing *humanize.Timing, index int) (map[string]any, error) {
	if err := page.Navigate(ctx, inboxURL); err != nil {
		return nil, fmt.Errorf("navigate to inbox: %w", err)
	}
	if err := page.WaitVisible(ctx, selInboxContainer, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("inbox never loaded: %w", err)
	}
	row := rowSelector(index)
	if err := page.WaitVisible(ctx, row, a.waitTimeout); err != nil {
		return nil, fmt.Errorf("message row %d not found: %w", index, err)
	}
	if err := page.Hover(ctx, row); err != nil {
		return nil, fmt.Errorf("hover row %d: %w", index, err)
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryClickSettle)); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, row+" "+selRowStar); err != nil {
		return nil, fmt.Errorf("star row %d: %w", index, err)
	}
	if err := humanize.Sleep(ctx, timing.Delay(humanize.CategoryClickSettle)); err != nil {
		return nil, err
	}
	return map[string]any{"email_index": index, "starred": true}, nil
}

func (a *Automator) openRow(ctx context.Context, page browser.Page, timing *humanize.Timing, index int) error {
	if err := page.Navigate(ctx, inboxURL); err != nil {
		return fmt.Errorf("navigate to inbox: %w", err)
	}
	if err := page.WaitVisible(ctx, selInboxContainer, a.waitTimeout); err != nil {
		return fmt.Errorf("inbox never loaded: %w", err)
	}
	row := rowSelector(index)
	if err := page.WaitVisible(ctx, row, a.waitTimeout); err != nil {
		return fmt.Errorf("message row %d not found: %w", index, err)
	}
	if err := humanize.Sleep(ctx, timing.MaybePause()); err != nil {
		return err
	}
	if err := page.Click(ctx, row); err != nil {
		return fmt.Errorf("open row %d: %w", index, err)
	}
	return humanize.Sleep(ctx, timing.Delay(humanize.CategoryClickSettle))
}
