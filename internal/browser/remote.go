package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteSessionManager talks to an external session-provider service that
// hosts the actual browser fleet. The provider understands both profile
// kinds; cloud profiles are started on its farm, local profiles inside the
// machine-local fence it manages.
type RemoteSessionManager struct {
	baseURL string
	client  *http.Client
}

// NewRemoteSessionManager creates a manager for the provider at baseURL.
func NewRemoteSessionManager(baseURL string) (*RemoteSessionManager, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("session provider url is empty")
	}
	if baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &RemoteSessionManager{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type startSessionRequest struct {
	ProfileID string `json:"profile_id"`
	Kind      string `json:"kind"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Open starts a session for the profile and returns it with a Page bound to
// the provider's action endpoint.
func (m *RemoteSessionManager) Open(ctx context.Context, profileID string, kind Kind) (*Session, error) {
	body, err := json.Marshal(startSessionRequest{
		ProfileID: profileID,
		Kind:      string(kind),
	})
	if err != nil {
		return nil, fmt.Errorf("encode start request: %w", err)
	}
	var started startSessionResponse
	if err := m.do(ctx, http.MethodPost, "/v1/sessions", body, &started); err != nil {
		return nil, fmt.Errorf("start session for profile %s: %w", profileID, err)
	}
	page := &remotePage{manager: m, sessionID: started.SessionID}
	closeFn := func() error {
		// Teardown must survive a cancelled task context.
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return m.do(closeCtx, http.MethodDelete, "/v1/sessions/"+started.SessionID, nil, nil)
	}
	return NewSession(profileID, page, closeFn), nil
}

func (m *RemoteSessionManager) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("session provider request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("session provider returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

// remotePage relays page actions to the provider's action endpoint for one
// session.
type remotePage struct {
	manager   *RemoteSessionManager
	sessionID string
}

type pageAction struct {
	Op        string `json:"op"`
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Rune      string `json:"rune,omitempty"`
	Key       string `json:"key,omitempty"`
	DeltaY    int    `json:"dy,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

type pageActionResult struct {
	Visible bool   `json:"visible"`
	Text    string `json:"text"`
	Count   int    `json:"count"`
	URL     string `json:"url"`
}

func (p *remotePage) act(ctx context.Context, action pageAction) (*pageActionResult, error) {
	body, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("encode page action: %w", err)
	}
	var result pageActionResult
	path := "/v1/sessions/" + p.sessionID + "/actions"
	if err := p.manager.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, fmt.Errorf("%s: %w", action.Op, err)
	}
	return &result, nil
}

func (p *remotePage) Navigate(ctx context.Context, url string) error {
	_, err := p.act(ctx, pageAction{Op: "navigate", URL: url})
	return err
}

func (p *remotePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := p.act(ctx, pageAction{Op: "wait_visible", Selector: selector, TimeoutMS: timeout.Milliseconds()})
	return err
}

func (p *remotePage) Visible(ctx context.Context, selector string) (bool, error) {
	result, err := p.act(ctx, pageAction{Op: "visible", Selector: selector})
	if err != nil {
		return false, err
	}
	return result.Visible, nil
}

func (p *remotePage) Click(ctx context.Context, selector string) error {
	_, err := p.act(ctx, pageAction{Op: "click", Selector: selector})
	return err
}

func (p *remotePage) Hover(ctx context.Context, selector string) error {
	_, err := p.act(ctx, pageAction{Op: "hover", Selector: selector})
	return err
}

func (p *remotePage) TypeRune(ctx context.Context, selector string, r rune) error {
	_, err := p.act(ctx, pageAction{Op: "type", Selector: selector, Rune: string(r)})
	return err
}

func (p *remotePage) Press(ctx context.Context, key string) error {
	_, err := p.act(ctx, pageAction{Op: "press", Key: key})
	return err
}

func (p *remotePage) ScrollBy(ctx context.Context, dy int) error {
	_, err := p.act(ctx, pageAction{Op: "scroll", DeltaY: dy})
	return err
}

func (p *remotePage) Text(ctx context.Context, selector string) (string, error) {
	result, err := p.act(ctx, pageAction{Op: "text", Selector: selector})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (p *remotePage) Count(ctx context.Context, selector string) (int, error) {
	result, err := p.act(ctx, pageAction{Op: "count", Selector: selector})
	if err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (p *remotePage) URL(ctx context.Context) (string, error) {
	result, err := p.act(ctx, pageAction{Op: "url"})
	if err != nil {
		return "", err
	}
	return result.URL, nil
}
