// Package broadcast publishes moderation activity to the announce
// channel and mirrors it to a Discord-compatible webhook. Delivery is
// best-effort: callers log failures but never roll back the transition
// that produced the event.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/redis/go-redis/v9"
)

// Event is the structured audit record emitted for every promotion,
// demotion, disqualification, nomination and nuke.
type Event struct {
	Type           string         `json:"type"`
	UserID         int            `json:"user_id"`
	Username       string         `json:"username"`
	BeatmapsetID   int            `json:"beatmapset_id"`
	BeatmapsetName string         `json:"beatmapset_name"`
	Status         int            `json:"status"`
	Beatmaps       map[string]int `json:"beatmaps,omitempty"`
	Time           time.Time      `json:"time"`
}

const (
	EventStatusUpdate    = "beatmap_status_updated"
	EventNomination      = "beatmap_nominated"
	EventNominationReset = "beatmap_nominations_reset"
	EventNuked           = "beatmap_nuked"
)

type Broadcaster struct {
	client     *redis.Client
	channel    string
	webhookURL string
	http       *retryablehttp.Client
	logger     *slog.Logger
}

func New(client *redis.Client, channel, webhookURL string, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	return &Broadcaster{
		client:     client,
		channel:    channel,
		webhookURL: webhookURL,
		http:       httpClient,
		logger:     logger,
	}
}

// Publish sends the event to the announce channel.
func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	if b.client == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// SendWebhook posts an embed to the configured webhook, if any.
func (b *Broadcaster) SendWebhook(ctx context.Context, embed Embed) error {
	if b.webhookURL == "" {
		return nil
	}
	payload, err := json.Marshal(webhookPayload{Embeds: []Embed{embed}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, b.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook responded with %d", resp.StatusCode)
	}
	return nil
}

func (b *Broadcaster) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
