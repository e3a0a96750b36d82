package geofs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"osprey-eyes/mindseye/internal/httpclient"
	"osprey-eyes/mindseye/internal/logging"
)

const (
	// DefaultBaseURL is the production multiplayer server.
	DefaultBaseURL = "https://mps.geo-fs.com"

	protocolOrigin = "https://www.geo-fs.com"

	handshakeRetryDelay = 5 * time.Second
)

// placeholderCoordinates is the parked-at-nowhere position the web
// client submits when it is not actually flying. The server expects it.
var placeholderCoordinates = []float64{
	9999999999999999, 9999999999999999, 9999999999999999,
	9999999999999999, 9999999999999999, 9999999999999999,
}

// ChatClient speaks the session side of the multiplayer protocol. A
// successful Handshake must complete before SendMessage or
// FetchMessages are used: every later call submits the myId and
// lastMsgId tokens the handshake establishes.
type ChatClient struct {
	http    *httpclient.Client
	baseURL string
	log     *zap.SugaredLogger

	sessionID string
	accountID string

	myID      string
	lastMsgID string
	ready     bool
}

// NewChatClient creates a chat client for the given session
// credentials. The session id doubles as the PHPSESSID cookie.
func NewChatClient(baseURL, sessionID, accountID, pinnedCertPath string) *ChatClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := httpclient.New(httpclient.Options{
		PinnedCertPath: pinnedCertPath,
		Cookies: []*http.Cookie{
			{Name: "PHPSESSID", Value: sessionID},
		},
	})
	return &ChatClient{
		http:      client,
		baseURL:   baseURL,
		log:       logging.WithComponent("chat_client"),
		sessionID: sessionID,
		accountID: accountID,
	}
}

// Handshake performs the two-step session bootstrap: the first call
// learns myId, the second submits it and learns lastMsgId. It retries
// the whole sequence with a fixed delay until it succeeds or the
// context is cancelled.
func (c *ChatClient) Handshake(ctx context.Context) error {
	for {
		err := c.handshakeOnce(ctx)
		if err == nil {
			c.ready = true
			c.log.Infow("Handshake complete", "myId", c.myID, "lastMsgId", c.lastMsgID)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Warnw("Handshake failed, retrying", "delay", handshakeRetryDelay.String(), "error", err.Error())
		select {
		case <-time.After(handshakeRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *ChatClient) handshakeOnce(ctx context.Context) error {
	now := time.Now().UnixMilli()
	body := c.baseRequest()
	body.ID = ""
	body.Timestamp = &now
	body.ChatIndex = 0

	first, err := c.postUpdate(ctx, body)
	if err != nil {
		return fmt.Errorf("first handshake call: %w", err)
	}
	c.myID = first.MyID.String()

	body.ID = c.myID
	// Null on the first bootstrap; a re-handshake after a session drop
	// resumes from the cursor already known.
	body.ChatIndex = c.chatIndex()
	second, err := c.postUpdate(ctx, body)
	if err != nil {
		return fmt.Errorf("second handshake call: %w", err)
	}

	c.myID = second.MyID.String()
	c.lastMsgID = second.LastMsgID.String()
	return nil
}

// SendMessage posts a chat message. Updates the myId token as a side
// effect.
func (c *ChatClient) SendMessage(ctx context.Context, text string) error {
	if !c.ready {
		return fmt.Errorf("chat client used before handshake")
	}

	body := c.baseRequest()
	body.ID = c.myID
	body.Message = text
	body.ChatIndex = c.chatIndex()

	resp, err := c.postUpdate(ctx, body)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	c.myID = resp.MyID.String()
	return nil
}

// FetchMessages returns the chat messages posted since the last fetch,
// percent-decoded. It advances the lastMsgId cursor as a side effect,
// so it is not a pure read.
func (c *ChatClient) FetchMessages(ctx context.Context) ([]ChatMessage, error) {
	if !c.ready {
		return nil, fmt.Errorf("chat client used before handshake")
	}

	body := c.baseRequest()
	body.ID = c.myID
	body.ChatIndex = c.chatIndex()

	resp, err := c.postUpdate(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	c.myID = resp.MyID.String()
	if resp.LastMsgID != "" {
		c.lastMsgID = resp.LastMsgID.String()
	}

	now := time.Now()
	messages := make([]ChatMessage, 0, len(resp.ChatMessages))
	for _, m := range resp.ChatMessages {
		text, err := url.QueryUnescape(m.Message)
		if err != nil {
			// Keep the raw form rather than losing the line
			text = m.Message
		}
		messages = append(messages, ChatMessage{
			AccountID: m.AccountID.String(),
			Callsign:  m.Callsign,
			Text:      text,
			FetchedAt: now,
		})
	}
	return messages, nil
}

func (c *ChatClient) baseRequest() updateRequest {
	return updateRequest{
		Origin:      protocolOrigin,
		AccountID:   c.accountID,
		SessionID:   c.sessionID,
		Aircraft:    "1",
		Coordinates: placeholderCoordinates,
		Velocity:    []float64{0, 0, 0, 0, 0, 0},
		State:       updateState{Grounded: true, Airspeed: 0},
	}
}

// chatIndex returns the cursor to submit as ci: null before the first
// message id is known, the raw id afterwards.
func (c *ChatClient) chatIndex() interface{} {
	if c.lastMsgID == "" {
		return nil
	}
	return c.lastMsgID
}

func (c *ChatClient) postUpdate(ctx context.Context, body updateRequest) (*updateResponse, error) {
	raw, err := c.http.PostJSON(ctx, c.baseURL+"/update", body)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("empty response from update endpoint")
	}

	var resp updateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode update response: %w", err)
	}
	return &resp, nil
}
