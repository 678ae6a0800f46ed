// Package lookup caches external data merged into every enqueued action,
// such as the channel's latest video link.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/rs/zerolog"
)

// DefaultYouTubeAPI is the YouTube Data API root.
const DefaultYouTubeAPI = "https://www.googleapis.com/youtube/v3"

// FieldYouTube is the template field holding the latest video URL.
const FieldYouTube = "youtube"

// ErrNoVideos is returned when the channel has no public videos.
var ErrNoVideos = errors.New("channel has no videos")

// YouTubeConfig configures the latest-video lookup.
type YouTubeConfig struct {
	ChannelID string
	APIKey    string

	// TTL is how long a result is served before refreshing. Default: 30m.
	TTL time.Duration

	// BaseURL overrides DefaultYouTubeAPI.
	BaseURL string
}

// YouTube serves the most recent upload of a channel.
type YouTube struct {
	config YouTubeConfig
	http   *http.Client
	logger zerolog.Logger

	mu        sync.RWMutex
	latest    string
	fetchedAt time.Time
}

var _ actions.SnapshotProvider = (*YouTube)(nil)

// NewYouTube creates the lookup. Nothing is fetched until Refresh or Run.
func NewYouTube(config YouTubeConfig, httpClient *http.Client) *YouTube {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultYouTubeAPI
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &YouTube{config: config, http: httpClient, logger: logging.Component("lookup")}
}

// Latest returns the cached snapshot. It never blocks on the network.
func (y *YouTube) Latest() map[string]any {
	y.mu.RLock()
	defer y.mu.RUnlock()
	if y.latest == "" {
		return nil
	}
	return map[string]any{FieldYouTube: y.latest}
}

// Stale reports whether the cached value is older than the TTL.
func (y *YouTube) Stale() bool {
	y.mu.RLock()
	defer y.mu.RUnlock()
	return y.fetchedAt.IsZero() || time.Since(y.fetchedAt) > y.config.TTL
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

// Refresh fetches the latest upload. On failure the previous value is kept.
func (y *YouTube) Refresh(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("part", "id")
	q.Set("channelId", y.config.ChannelID)
	q.Set("order", "date")
	q.Set("type", "video")
	q.Set("maxResults", "1")
	q.Set("key", y.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.config.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build youtube request: %w", err)
	}
	resp, err := y.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("youtube request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("youtube request: %s", resp.Status)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode youtube response: %w", err)
	}
	if len(body.Items) == 0 || body.Items[0].ID.VideoID == "" {
		return "", ErrNoVideos
	}

	link := "https://youtu.be/" + body.Items[0].ID.VideoID
	y.mu.Lock()
	y.latest = link
	y.fetchedAt = time.Now()
	y.mu.Unlock()

	y.logger.Debug().Str("url", link).Msg("latest video refreshed")
	return link, nil
}

// Run refreshes immediately and then once per TTL until ctx is done.
func (y *YouTube) Run(ctx context.Context) error {
	refresh := func() {
		if _, err := y.Refresh(ctx); err != nil && ctx.Err() == nil {
			y.logger.Warn().Err(err).Msg("failed to refresh latest video")
		}
	}
	refresh()

	ticker := time.NewTicker(y.config.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}
