package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Send(ctx context.Context, title, body string) error {
	s.calls++
	return s.err
}

func TestMultiNotifierTriesAll(t *testing.T) {
	failing := &stubNotifier{err: errors.New("push rejected")}
	working := &stubNotifier{}

	multi := NewMultiNotifier(failing, working)
	err := multi.Send(context.Background(), "title", "body")

	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls, "a failure must not short-circuit the fan-out")
}

func TestNoOpNotifier(t *testing.T) {
	n := &NoOpNotifier{}
	assert.NoError(t, n.Send(context.Background(), "title", "body"))
}

func TestBarkNotifierSend(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bark, err := NewBarkNotifier(srv.URL + "/")
	require.NoError(t, err)

	require.NoError(t, bark.Send(context.Background(), "profile alpha needs attention", "blocked: suspended"))
	require.NotNil(t, gotQuery)
	assert.Equal(t, []string{"profile alpha needs attention"}, gotQuery["title"])
	assert.Equal(t, []string{"mailpilot"}, gotQuery["group"])
}

func TestBarkNotifierErrors(t *testing.T) {
	_, err := NewBarkNotifier("")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	bark, err := NewBarkNotifier(srv.URL)
	require.NoError(t, err)
	assert.Error(t, bark.Send(context.Background(), "t", "b"))
}
