// Package lights drives a Philips Hue bridge light group over its REST API.
package lights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one bridge request.
const DefaultTimeout = 500 * time.Millisecond

// ErrNotConfigured is returned when no bridge URL is set.
var ErrNotConfigured = errors.New("hue bridge base URL is not configured")

// Config contains bridge settings.
type Config struct {
	// BaseURL is the bridge API root including the username,
	// e.g. http://10.0.0.2/api/<username>.
	BaseURL string

	// Group is the light group to drive. Default: "1".
	Group string

	// Timeout bounds each request. Default: 500ms.
	Timeout time.Duration
}

// Client sets scenes and colors on a light group.
type Client struct {
	config Config
	http   *http.Client
	logger zerolog.Logger
}

var _ actions.Lights = (*Client)(nil)

// New creates a bridge client.
func New(config Config, httpClient *http.Client) *Client {
	if config.Group == "" {
		config.Group = "1"
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config: config,
		http:   httpClient,
		logger: logging.Component("lights"),
	}
}

// groupAction is the body of PUT /groups/{id}/action.
type groupAction struct {
	On    *bool  `json:"on,omitempty"`
	Scene string `json:"scene,omitempty"`
	Hue   *int   `json:"hue,omitempty"`
	Bri   *int   `json:"bri,omitempty"`
	Sat   *int   `json:"sat,omitempty"`
}

// bridgeError is one entry of the bridge's error array response.
type bridgeError struct {
	Error *struct {
		Type        int    `json:"type"`
		Address     string `json:"address"`
		Description string `json:"description"`
	} `json:"error"`
}

// SetScene recalls a stored scene on the group.
func (c *Client) SetScene(ctx context.Context, sceneID string) error {
	return c.put(ctx, groupAction{Scene: sceneID})
}

// PickColor sets hue (0-65535), brightness, saturation and power. Unset
// members are left unchanged on the bridge.
func (c *Client) PickColor(ctx context.Context, color actions.Color) error {
	return c.put(ctx, groupAction{On: color.On, Hue: color.Hue, Bri: color.Bri, Sat: color.Sat})
}

// On powers the group on.
func (c *Client) On(ctx context.Context) error {
	on := true
	return c.put(ctx, groupAction{On: &on})
}

// Off powers the group off.
func (c *Client) Off(ctx context.Context) error {
	off := false
	return c.put(ctx, groupAction{On: &off})
}

func (c *Client) put(ctx context.Context, body groupAction) error {
	if c.config.BaseURL == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode light action: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/groups/%s/action", c.config.BaseURL, c.config.Group)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build light request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("light request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read light response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("light request: bridge returned %s", resp.Status)
	}

	// The bridge reports failures as 200 with an error array.
	var results []bridgeError
	if err := json.Unmarshal(data, &results); err == nil {
		for _, r := range results {
			if r.Error != nil {
				return fmt.Errorf("light request: %s: %s", r.Error.Address, r.Error.Description)
			}
		}
	}

	c.logger.Debug().RawJSON("action", payload).Msg("light action applied")
	return nil
}
