package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"directmsg/internal/app"
	"directmsg/pkg/domain"
	"directmsg/pkg/store"
)

type stubVerifier struct {
	callers map[string]domain.UserProfile
}

func (v *stubVerifier) VerifyCaller(token string) (domain.UserProfile, error) {
	caller, ok := v.callers[token]
	if !ok {
		return domain.UserProfile{}, fmt.Errorf("unknown token")
	}
	return caller, nil
}

type stubProfiles struct{}

func (stubProfiles) GetProfile(userID int64) (domain.UserProfile, error) {
	return domain.UserProfile{ID: userID, Username: fmt.Sprintf("user-%d", userID)}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	application, err := app.New(app.Config{
		Store:    store.NewMemoryStore(),
		Profiles: stubProfiles{},
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	srv := New(Config{
		App: application,
		TokenVerifier: &stubVerifier{callers: map[string]domain.UserProfile{
			"alice-token": {ID: 1, Username: "alice"},
			"bob-token":   {ID: 2, Username: "bob"},
			"eve-token":   {ID: 9, Username: "eve"},
		}},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func decodeInto(t *testing.T, data []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("decode response %s: %v", data, err)
	}
}

func TestRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/conversations", "/unread-count", "/messages/1"} {
		resp, _ := doRequest(t, ts, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without token = %d, want 401", path, resp.StatusCode)
		}
	}
	resp, _ := doRequest(t, ts, http.MethodGet, "/conversations", "bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", resp.StatusCode)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doRequest(t, ts, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", resp.StatusCode)
	}
}

func TestMessagingFlow(t *testing.T) {
	ts := newTestServer(t)

	// Alice opens the conversation with Bob.
	resp, body := doRequest(t, ts, http.MethodPost, "/conversations", "alice-token",
		map[string]int64{"otherUserId": 2})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create conversation = %d: %s", resp.StatusCode, body)
	}
	var view domain.ConversationView
	decodeInto(t, body, &view)
	if view.OtherUser.ID != 2 {
		t.Fatalf("other user = %d, want 2", view.OtherUser.ID)
	}
	convPath := fmt.Sprintf("/conversations/%d", view.Conversation.ID)

	// Bob repeating the call gets the same conversation back.
	resp, body = doRequest(t, ts, http.MethodPost, "/conversations", "bob-token",
		map[string]int64{"otherUserId": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get-or-create from bob = %d: %s", resp.StatusCode, body)
	}
	var bobView domain.ConversationView
	decodeInto(t, body, &bobView)
	if bobView.Conversation.ID != view.Conversation.ID {
		t.Fatalf("bob got conversation %d, want %d", bobView.Conversation.ID, view.Conversation.ID)
	}

	// Alice sends two messages.
	var sent domain.Message
	for _, content := range []string{"hello bob", "are you there?"} {
		resp, body = doRequest(t, ts, http.MethodPost, convPath+"/messages", "alice-token",
			map[string]string{"content": content})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("send message = %d: %s", resp.StatusCode, body)
		}
		decodeInto(t, body, &sent)
	}

	// Bob's unread total reflects both messages.
	resp, body = doRequest(t, ts, http.MethodGet, "/unread-count", "bob-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unread-count = %d: %s", resp.StatusCode, body)
	}
	var unread struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	decodeInto(t, body, &unread)
	if unread.UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", unread.UnreadCount)
	}

	// Bob reads the history.
	resp, body = doRequest(t, ts, http.MethodGet, convPath+"/messages", "bob-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages = %d: %s", resp.StatusCode, body)
	}
	var page struct {
		Messages []domain.Message `json:"messages"`
	}
	decodeInto(t, body, &page)
	if len(page.Messages) != 2 {
		t.Fatalf("history length = %d, want 2", len(page.Messages))
	}
	if page.Messages[0].Content != "hello bob" {
		t.Fatalf("history not chronological: first = %q", page.Messages[0].Content)
	}

	// Bob marks the conversation read.
	resp, body = doRequest(t, ts, http.MethodPost, convPath+"/read", "bob-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read = %d: %s", resp.StatusCode, body)
	}
	resp, body = doRequest(t, ts, http.MethodGet, "/unread-count", "bob-token", nil)
	decodeInto(t, body, &unread)
	if unread.UnreadCount != 0 {
		t.Fatalf("unread after read = %d, want 0", unread.UnreadCount)
	}

	// Alice edits then deletes her last message.
	msgPath := fmt.Sprintf("/messages/%d", sent.ID)
	resp, body = doRequest(t, ts, http.MethodPut, msgPath, "alice-token",
		map[string]string{"content": "are you around?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit message = %d: %s", resp.StatusCode, body)
	}
	var edited domain.Message
	decodeInto(t, body, &edited)
	if !edited.IsEdited || edited.Content != "are you around?" {
		t.Fatalf("edit not applied: %+v", edited)
	}
	resp, body = doRequest(t, ts, http.MethodDelete, msgPath, "alice-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete message = %d: %s", resp.StatusCode, body)
	}

	// The deleted message no longer shows in history.
	resp, body = doRequest(t, ts, http.MethodGet, convPath+"/messages", "bob-token", nil)
	decodeInto(t, body, &page)
	if len(page.Messages) != 1 {
		t.Fatalf("history after delete = %d messages, want 1", len(page.Messages))
	}
}

func TestNonParticipantSeesNotFound(t *testing.T) {
	ts := newTestServer(t)

	_, body := doRequest(t, ts, http.MethodPost, "/conversations", "alice-token",
		map[string]int64{"otherUserId": 2})
	var view domain.ConversationView
	decodeInto(t, body, &view)
	convPath := fmt.Sprintf("/conversations/%d", view.Conversation.ID)
	_, body = doRequest(t, ts, http.MethodPost, convPath+"/messages", "alice-token",
		map[string]string{"content": "secret"})
	var msg domain.Message
	decodeInto(t, body, &msg)

	cases := []struct {
		method, path string
		payload      any
	}{
		{http.MethodGet, convPath + "/messages", nil},
		{http.MethodPost, convPath + "/messages", map[string]string{"content": "hi"}},
		{http.MethodPost, convPath + "/read", nil},
		{http.MethodPut, fmt.Sprintf("/messages/%d", msg.ID), map[string]string{"content": "x"}},
		{http.MethodDelete, fmt.Sprintf("/messages/%d", msg.ID), nil},
	}
	for _, tc := range cases {
		resp, respBody := doRequest(t, ts, tc.method, tc.path, "eve-token", tc.payload)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s %s as outsider = %d, want 404: %s", tc.method, tc.path, resp.StatusCode, respBody)
		}
	}
}

func TestValidationErrorsReturn400(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodPost, "/conversations", "alice-token",
		map[string]int64{"otherUserId": 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self-conversation = %d, want 400", resp.StatusCode)
	}

	_, body := doRequest(t, ts, http.MethodPost, "/conversations", "alice-token",
		map[string]int64{"otherUserId": 2})
	var view domain.ConversationView
	decodeInto(t, body, &view)

	resp, _ = doRequest(t, ts, http.MethodPost,
		fmt.Sprintf("/conversations/%d/messages", view.Conversation.ID), "alice-token",
		map[string]string{"content": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank message = %d, want 400", resp.StatusCode)
	}
}

func TestMessagePagination(t *testing.T) {
	ts := newTestServer(t)

	_, body := doRequest(t, ts, http.MethodPost, "/conversations", "alice-token",
		map[string]int64{"otherUserId": 2})
	var view domain.ConversationView
	decodeInto(t, body, &view)
	convPath := fmt.Sprintf("/conversations/%d", view.Conversation.ID)

	for i := 1; i <= 5; i++ {
		doRequest(t, ts, http.MethodPost, convPath+"/messages", "alice-token",
			map[string]string{"content": fmt.Sprintf("msg %d", i)})
	}

	var page struct {
		Messages []domain.Message `json:"messages"`
	}
	_, body = doRequest(t, ts, http.MethodGet, convPath+"/messages?page=1&limit=2", "bob-token", nil)
	decodeInto(t, body, &page)
	if len(page.Messages) != 2 {
		t.Fatalf("page 1 length = %d, want 2", len(page.Messages))
	}
	if page.Messages[0].Content != "msg 4" || page.Messages[1].Content != "msg 5" {
		t.Fatalf("page 1 = [%q %q], want newest two in order", page.Messages[0].Content, page.Messages[1].Content)
	}

	_, body = doRequest(t, ts, http.MethodGet, convPath+"/messages?page=3&limit=2", "bob-token", nil)
	decodeInto(t, body, &page)
	if len(page.Messages) != 1 || page.Messages[0].Content != "msg 1" {
		t.Fatalf("page 3 = %+v, want the oldest message", page.Messages)
	}
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doRequest(t, ts, http.MethodGet, "/conversations/abc/messages", "alice-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("non-numeric id = %d, want 404", resp.StatusCode)
	}
	resp, _ = doRequest(t, ts, http.MethodDelete, "/conversations", "alice-token", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /conversations = %d, want 405", resp.StatusCode)
	}
	resp, _ = doRequest(t, ts, http.MethodGet, "/conversations/1/unknown", "alice-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown subresource = %d, want 404", resp.StatusCode)
	}
}
