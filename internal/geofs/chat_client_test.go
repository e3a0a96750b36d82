package geofs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// updateServer replays canned /update responses and records the raw
// request bodies for inspection.
type updateServer struct {
	responses []string
	requests  []map[string]interface{}
}

func (s *updateServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		s.requests = append(s.requests, body)

		i := len(s.requests) - 1
		if i >= len(s.responses) {
			t.Errorf("Unexpected request %d", i+1)
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(s.responses[i]))
	}
}

func TestChatClient_Handshake(t *testing.T) {
	s := &updateServer{responses: []string{
		`{"myId": 123}`,
		`{"myId": 123, "lastMsgId": "999"}`,
	}}
	server := httptest.NewServer(s.handler(t))
	defer server.Close()

	c := NewChatClient(server.URL, "sess-1", "acct-1", "")
	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	if len(s.requests) != 2 {
		t.Fatalf("Expected 2 handshake calls, got %d", len(s.requests))
	}

	first := s.requests[0]
	if first["id"] != "" {
		t.Errorf("Expected empty id on first call, got %v", first["id"])
	}
	if first["ci"] != float64(0) {
		t.Errorf("Expected ci=0 on first call, got %v", first["ci"])
	}
	if first["ti"] == nil {
		t.Error("Expected timestamp set on first call")
	}
	if first["sid"] != "sess-1" || first["acid"] != "acct-1" {
		t.Errorf("Unexpected credentials in request: sid=%v acid=%v", first["sid"], first["acid"])
	}

	second := s.requests[1]
	if second["id"] != "123" {
		t.Errorf("Expected myId submitted on second call, got %v", second["id"])
	}
	if second["ci"] != nil {
		t.Errorf("Expected ci=null on second call, got %v", second["ci"])
	}

	if c.myID != "123" || c.lastMsgID != "999" {
		t.Errorf("Unexpected session tokens: myId=%s lastMsgId=%s", c.myID, c.lastMsgID)
	}
}

func TestChatClient_UseBeforeHandshakeFails(t *testing.T) {
	c := NewChatClient("http://127.0.0.1:1", "sess", "acct", "")

	if _, err := c.FetchMessages(context.Background()); err == nil {
		t.Error("Expected FetchMessages to fail before handshake")
	}
	if err := c.SendMessage(context.Background(), "hi"); err == nil {
		t.Error("Expected SendMessage to fail before handshake")
	}
}

func TestChatClient_FetchMessagesDecodesAndAdvancesCursor(t *testing.T) {
	s := &updateServer{responses: []string{
		`{"myId": "123"}`,
		`{"myId": "123", "lastMsgId": "999"}`,
		`{"myId": "123", "lastMsgId": "1000", "chatMessages": [
			{"acid": 456, "cs": "RAF01", "msg": "hello%20world"},
			{"acid": "457", "cs": "RAF02", "msg": "100%legit"}
		]}`,
		`{"myId": "123", "lastMsgId": "1000", "chatMessages": []}`,
	}}
	server := httptest.NewServer(s.handler(t))
	defer server.Close()

	c := NewChatClient(server.URL, "sess", "acct", "")
	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	messages, err := c.FetchMessages(context.Background())
	if err != nil {
		t.Fatalf("FetchMessages failed: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].AccountID != "456" || messages[0].Callsign != "RAF01" {
		t.Errorf("Unexpected first message: %+v", messages[0])
	}
	if messages[0].Text != "hello world" {
		t.Errorf("Expected percent-decoded text, got %q", messages[0].Text)
	}
	// A body that fails decoding is kept raw rather than dropped
	if messages[1].Text != "100%legit" {
		t.Errorf("Expected raw fallback text, got %q", messages[1].Text)
	}

	if _, err := c.FetchMessages(context.Background()); err != nil {
		t.Fatalf("Second FetchMessages failed: %v", err)
	}

	fetch2 := s.requests[3]
	if fetch2["ci"] != "1000" {
		t.Errorf("Expected cursor advanced to 1000, got %v", fetch2["ci"])
	}
}

func TestChatClient_RehandshakeSubmitsKnownCursor(t *testing.T) {
	s := &updateServer{responses: []string{
		`{"myId": "123"}`,
		`{"myId": "123", "lastMsgId": "999"}`,
		`{"myId": "124"}`,
		`{"myId": "124", "lastMsgId": "999"}`,
	}}
	server := httptest.NewServer(s.handler(t))
	defer server.Close()

	c := NewChatClient(server.URL, "sess", "acct", "")
	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	// Session dropped; the client handshakes again
	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("Re-handshake failed: %v", err)
	}

	first := s.requests[1]
	if first["ci"] != nil {
		t.Errorf("Expected ci=null on the bootstrap handshake, got %v", first["ci"])
	}
	second := s.requests[3]
	if second["ci"] != "999" {
		t.Errorf("Expected known cursor resubmitted on re-handshake, got %v", second["ci"])
	}
}

func TestChatClient_SendMessageSubmitsText(t *testing.T) {
	s := &updateServer{responses: []string{
		`{"myId": "123"}`,
		`{"myId": "123", "lastMsgId": "999"}`,
		`{"myId": "124"}`,
	}}
	server := httptest.NewServer(s.handler(t))
	defer server.Close()

	c := NewChatClient(server.URL, "sess", "acct", "")
	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	if err := c.SendMessage(context.Background(), "copy that"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	sent := s.requests[2]
	if sent["m"] != "copy that" {
		t.Errorf("Expected message text submitted, got %v", sent["m"])
	}
	if sent["ci"] != "999" {
		t.Errorf("Expected chat cursor submitted, got %v", sent["ci"])
	}
	if c.myID != "124" {
		t.Errorf("Expected myId refreshed from response, got %s", c.myID)
	}
}
