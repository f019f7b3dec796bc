// Package homeassistant is a small client for the Home Assistant REST and
// websocket APIs. It only covers what the controller needs: reading and
// writing entity states, calling switch services and following
// state_changed events.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/loadshift/pkg/common"
	"github.com/raterudder/loadshift/pkg/log"
)

var (
	// ErrNotFound is returned when Home Assistant does not know the entity
	// or service.
	ErrNotFound = errors.New("homeassistant: not found")

	// ErrAuth is returned when the access token is rejected.
	ErrAuth = errors.New("homeassistant: authentication failed")
)

// State is an entity state as returned by /api/states.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Client talks to a single Home Assistant instance.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Configured registers the Home Assistant connection flags and returns a
// client that is usable after lflag.Configure.
func Configured() *Client {
	c := &Client{}
	baseURL := lflag.String("homeassistant-url", "http://homeassistant.local:8123", "Base URL of the Home Assistant instance")
	token := lflag.String("homeassistant-token", "", "Long-lived Home Assistant access token")
	timeout := lflag.Duration("homeassistant-timeout", 10*time.Second, "Timeout for Home Assistant REST requests")

	lflag.Do(func() {
		c.baseURL = strings.TrimSuffix(*baseURL, "/")
		c.token = *token
		c.client = common.AuthorizedHTTPClient(*timeout, c.token)
	})
	return c
}

// New returns a client for the instance at baseURL.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  common.AuthorizedHTTPClient(timeout, token),
	}
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.baseURL == "" {
		return fmt.Errorf("homeassistant-url is required")
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return fmt.Errorf("failed to parse homeassistant url (%s): %w", c.baseURL, err)
	}
	if c.token == "" {
		return fmt.Errorf("homeassistant-token is required")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", path, ErrAuth)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// GetState returns the current state of an entity.
func (c *Client) GetState(ctx context.Context, entityID string) (State, error) {
	var s State
	if err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// SetState creates or replaces the state representation of an entity.
func (c *Client) SetState(ctx context.Context, entityID, state string, attrs map[string]any) error {
	body := struct {
		State      string         `json:"state"`
		Attributes map[string]any `json:"attributes,omitempty"`
	}{state, attrs}
	log.Ctx(ctx).DebugContext(
		ctx,
		"setting homeassistant state",
		slog.String("entityID", entityID),
		slog.String("state", state),
	)
	return c.do(ctx, http.MethodPost, "/api/states/"+url.PathEscape(entityID), body, nil)
}

// CallService calls domain.service with the given service data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	log.Ctx(ctx).DebugContext(
		ctx,
		"calling homeassistant service",
		slog.String("domain", domain),
		slog.String("service", service),
		slog.Any("data", data),
	)
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	return c.do(ctx, http.MethodPost, path, data, nil)
}
