package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Per-kind task parameters. The params column stores loosely-typed JSON;
// each kind decodes only the fields it needs and validates them at dispatch
// time instead of trusting the raw payload.

// ReadEmailParams selects the Nth message row, zero-based.
type ReadEmailParams struct {
	EmailIndex int `json:"email_index"`
}

// StarEmailParams selects the Nth message row, zero-based.
type StarEmailParams struct {
	EmailIndex int `json:"email_index"`
}

// SendEmailParams fills the composer.
type SendEmailParams struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ReplyParams locates the newest message from a sender and replies to it.
type ReplyParams struct {
	SearchFrom   string `json:"search_from"`
	ReplyMessage string `json:"reply_message"`
}

// ReportParams moves matching spam messages back to the inbox.
type ReportParams struct {
	SearchQuery string `json:"search_query"`
}

func decodeParams(raw json.RawMessage, kind TaskKind, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%s task requires params", kind)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s params: %w", kind, err)
	}
	return nil
}

// ValidateParams checks raw against the schema of kind so malformed tasks
// are rejected at creation rather than at dispatch. Kinds without params
// accept any payload, including none.
func ValidateParams(kind TaskKind, raw json.RawMessage) error {
	var err error
	switch kind {
	case TaskKindReadEmail:
		_, err = ParseReadEmailParams(raw)
	case TaskKindStarEmail:
		_, err = ParseStarEmailParams(raw)
	case TaskKindSendEmail:
		_, err = ParseSendEmailParams(raw)
	case TaskKindReplyToEmail:
		_, err = ParseReplyParams(raw)
	case TaskKindReportToInbox:
		_, err = ParseReportParams(raw)
	}
	return err
}

// ParseReadEmailParams decodes and validates params for read_email.
func ParseReadEmailParams(raw json.RawMessage) (ReadEmailParams, error) {
	var p ReadEmailParams
	if err := decodeParams(raw, TaskKindReadEmail, &p); err != nil {
		return p, err
	}
	if p.EmailIndex < 0 {
		return p, fmt.Errorf("email_index must be non-negative")
	}
	return p, nil
}

// ParseStarEmailParams decodes and validates params for star_email.
func ParseStarEmailParams(raw json.RawMessage) (StarEmailParams, error) {
	var p StarEmailParams
	if err := decodeParams(raw, TaskKindStarEmail, &p); err != nil {
		return p, err
	}
	if p.EmailIndex < 0 {
		return p, fmt.Errorf("email_index must be non-negative")
	}
	return p, nil
}

// ParseSendEmailParams decodes and validates params for send_email.
func ParseSendEmailParams(raw json.RawMessage) (SendEmailParams, error) {
	var p SendEmailParams
	if err := decodeParams(raw, TaskKindSendEmail, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.To) == "" {
		return p, fmt.Errorf("to is required")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return p, fmt.Errorf("subject is required")
	}
	return p, nil
}

// ParseReplyParams decodes and validates params for reply_to_email.
func ParseReplyParams(raw json.RawMessage) (ReplyParams, error) {
	var p ReplyParams
	if err := decodeParams(raw, TaskKindReplyToEmail, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.SearchFrom) == "" {
		return p, fmt.Errorf("search_from is required")
	}
	if strings.TrimSpace(p.ReplyMessage) == "" {
		return p, fmt.Errorf("reply_message is required")
	}
	return p, nil
}

// ParseReportParams decodes and validates params for report_to_inbox.
func ParseReportParams(raw json.RawMessage) (ReportParams, error) {
	var p ReportParams
	if err := decodeParams(raw, TaskKindReportToInbox, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.SearchQuery) == "" {
		return p, fmt.Errorf("search_query is required")
	}
	return p, nil
}
