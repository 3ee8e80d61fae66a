package discord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type WebhookMessage struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Timestamp   time.Time `json:"timestamp"`
	Fields      []Field   `json:"fields,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const (
	colorError = 0xFF0000
	colorFatal = 0x8B0000
	colorInfo  = 0x2ECC71
)

// Client posts operational notices to a Discord-compatible webhook.
// A nil client or an empty URL disables delivery, so callers never
// need to guard their calls.
type Client struct {
	webhookURL string
	httpClient *http.Client
}

func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) SendMessage(msg WebhookMessage) error {
	if c == nil || c.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequest("POST", c.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status: %d", resp.StatusCode)
	}

	return nil
}

// NotifyReloadFailure reports a failed schedule reload. The engine is
// still publishing with the previously loaded timetable.
func (c *Client) NotifyReloadFailure(source string, err error) error {
	return c.SendMessage(WebhookMessage{
		Embeds: []Embed{{
			Title:       "🚨 Schedule reload failed",
			Description: "Publishing continues with the previously loaded timetable.",
			Color:       colorError,
			Timestamp:   time.Now(),
			Fields: []Field{
				{Name: "source", Value: source, Inline: true},
				{Name: "error", Value: err.Error()},
			},
		}},
	})
}

// NotifyStartupFailure reports that the engine could not complete its
// first schedule load and is shutting down.
func (c *Client) NotifyStartupFailure(err error) error {
	return c.SendMessage(WebhookMessage{
		Embeds: []Embed{{
			Title:       "🚨 Feed engine failed to start",
			Description: err.Error(),
			Color:       colorFatal,
			Timestamp:   time.Now(),
		}},
	})
}

// NotifyScheduleLoaded reports that a new timetable went live.
func (c *Client) NotifyScheduleLoaded(serviceDay string, trips, departures int) error {
	return c.SendMessage(WebhookMessage{
		Embeds: []Embed{{
			Title:     "Timetable updated",
			Color:     colorInfo,
			Timestamp: time.Now(),
			Fields: []Field{
				{Name: "service_day", Value: serviceDay, Inline: true},
				{Name: "trips", Value: fmt.Sprintf("%d", trips), Inline: true},
				{Name: "departures", Value: fmt.Sprintf("%d", departures), Inline: true},
			},
		}},
	})
}
