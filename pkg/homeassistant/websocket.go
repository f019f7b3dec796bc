package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raterudder/loadshift/pkg/common"
	"github.com/raterudder/loadshift/pkg/log"
)

const handshakeTimeout = 10 * time.Second

// StateChange is the payload of a state_changed event. OldState is nil when
// the entity was created and NewState is nil when it was removed.
type StateChange struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

type wsMessage struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	EventType   string          `json:"event_type,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Message     string          `json:"message,omitempty"`
	Error       *wsError        `json:"error,omitempty"`
	Event       *wsEvent        `json:"event,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsEvent struct {
	EventType string      `json:"event_type"`
	Data      StateChange `json:"data"`
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid homeassistant url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// Subscribe connects to the websocket API, subscribes to state_changed
// events and calls fn for each one until ctx is done or the connection
// fails. It returns nil when ctx is canceled.
func (c *Client) Subscribe(ctx context.Context, fn func(StateChange)) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	headers := http.Header{"User-Agent": {common.UserAgent()}}
	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks ReadMessage
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := c.authenticate(conn); err != nil {
		return err
	}

	if err := conn.WriteJSON(wsMessage{ID: 1, Type: "subscribe_events", EventType: "state_changed"}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "subscribed to homeassistant state changes", slog.String("url", wsURL))

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read homeassistant event: %w", err)
		}
		switch msg.Type {
		case "result":
			if msg.Success != nil && !*msg.Success {
				if msg.Error != nil {
					return fmt.Errorf("subscribe_events failed: %s: %s", msg.Error.Code, msg.Error.Message)
				}
				return fmt.Errorf("subscribe_events failed")
			}
		case "event":
			if msg.Event == nil || msg.Event.EventType != "state_changed" {
				continue
			}
			fn(msg.Event.Data)
		}
	}
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected first message: %s", msg.Type)
	}
	if err := conn.WriteJSON(wsMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	if msg.Type != "auth_ok" {
		return fmt.Errorf("%s: %w", msg.Message, ErrAuth)
	}
	return nil
}
