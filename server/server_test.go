package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"autemo-sync/pkg/shout"
	"autemo-sync/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMessages struct {
	messages []*store.Message
	err      error
	limit    int
	saved    []*shout.Author
}

func (f *fakeMessages) RecentMessages(_ context.Context, limit int) ([]*store.Message, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

func (f *fakeMessages) SaveAuthors(_ context.Context, authors []*shout.Author) error {
	f.saved = authors
	return nil
}

type fakeRoster struct {
	users []*shout.Author
	err   error
}

func (f *fakeRoster) OnlineUsers(context.Context) ([]*shout.Author, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users, nil
}

type fakeComposer struct {
	sent chan string
	err  error
}

func (f *fakeComposer) Send(_ context.Context, text string) error {
	if f.sent != nil {
		f.sent <- text
	}
	return f.err
}

func testServer(messages Messages, roster Roster, composer Composer) *Server {
	return New(&Config{
		Messages: messages,
		Roster:   roster,
		Composer: composer,
		Hub:      NewHub(testLogger()),
		Logger:   testLogger(),
	})
}

func TestHandleHealth(t *testing.T) {
	s := testServer(&fakeMessages{}, &fakeRoster{}, &fakeComposer{})

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestHandleMessages(t *testing.T) {
	messages := &fakeMessages{messages: []*store.Message{{
		ID:         1,
		Timestamp:  time.Date(2021, time.June, 13, 14, 3, 22, 0, time.UTC),
		Text:       "hello",
		Kind:       "shout",
		AuthorName: "bob",
	}}}
	s := testServer(messages, &fakeRoster{}, &fakeComposer{})

	w := httptest.NewRecorder()
	s.handleMessages(w, httptest.NewRequest(http.MethodGet, "/messages", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if messages.limit != defaultMessageLimit {
		t.Errorf("limit = %d, want default %d", messages.limit, defaultMessageLimit)
	}

	var got []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(got) != 1 || got[0]["author_name"] != "bob" {
		t.Errorf("response = %v", got)
	}
}

func TestHandleMessagesCustomLimit(t *testing.T) {
	messages := &fakeMessages{}
	s := testServer(messages, &fakeRoster{}, &fakeComposer{})

	w := httptest.NewRecorder()
	s.handleMessages(w, httptest.NewRequest(http.MethodGet, "/messages?limit=10", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if messages.limit != 10 {
		t.Errorf("limit = %d, want 10", messages.limit)
	}
}

func TestHandleMessagesBadLimit(t *testing.T) {
	s := testServer(&fakeMessages{}, &fakeRoster{}, &fakeComposer{})

	for _, raw := range []string{"0", "-5", "9999", "abc"} {
		w := httptest.NewRecorder()
		s.handleMessages(w, httptest.NewRequest(http.MethodGet, "/messages?limit="+raw, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", raw, w.Code)
		}
	}
}

func TestHandleMessagesStoreError(t *testing.T) {
	s := testServer(&fakeMessages{err: errors.New("db down")}, &fakeRoster{}, &fakeComposer{})

	w := httptest.NewRecorder()
	s.handleMessages(w, httptest.NewRequest(http.MethodGet, "/messages", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHandleOnline(t *testing.T) {
	messages := &fakeMessages{}
	roster := &fakeRoster{users: []*shout.Author{
		{Name: "alice", Role: shout.RoleAdmin},
		{Name: "bob", Role: shout.RoleUser},
	}}
	s := testServer(messages, roster, &fakeComposer{})

	w := httptest.NewRecorder()
	s.handleOnline(w, httptest.NewRequest(http.MethodGet, "/online", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(messages.saved) != 2 {
		t.Errorf("roster persisted %d authors, want 2", len(messages.saved))
	}

	var got []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(got) != 2 || got[0]["role"] != "ADMIN" {
		t.Errorf("response = %v", got)
	}
}

func TestHandleOnlineUpstreamError(t *testing.T) {
	s := testServer(&fakeMessages{}, &fakeRoster{err: errors.New("timeout")}, &fakeComposer{})

	w := httptest.NewRecorder()
	s.handleOnline(w, httptest.NewRequest(http.MethodGet, "/online", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestHandleSend(t *testing.T) {
	composer := &fakeComposer{sent: make(chan string, 1)}
	s := testServer(&fakeMessages{}, &fakeRoster{}, composer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"text":"hello"}`))
	s.handleSend(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	select {
	case text := <-composer.sent:
		if text != "hello" {
			t.Errorf("sent %q, want %q", text, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("composer never received the message")
	}
}

func TestHandleSendBadBody(t *testing.T) {
	s := testServer(&fakeMessages{}, &fakeRoster{}, &fakeComposer{})

	for _, body := range []string{"", "{}", `{"text":""}`, "not json"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
		s.handleSend(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}
