// Package ticketing talks to the external ticketing system. Responses may be
// JSON or opaque text and are parsed defensively.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/config"
)

// Client performs the plain HTTP calls the flow's api_call actions need.
type Client struct {
	optionsURL string
	createURL  string
	http       *http.Client
	logger     *slog.Logger
}

// NewClient creates a ticketing client from config.
func NewClient(log *slog.Logger, cfg config.TicketingConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		optionsURL: cfg.OptionsURL,
		createURL:  cfg.CreateURL,
		http:       &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("component", "ticketing")),
	}
}

// FetchOptions retrieves a dynamic option list. url overrides the configured
// endpoint when non-empty.
func (c *Client) FetchOptions(ctx context.Context, url string) ([]string, error) {
	if url == "" {
		url = c.optionsURL
	}
	if url == "" {
		return nil, fmt.Errorf("no options endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch options: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("options endpoint status %d", resp.StatusCode)
	}
	options := parseOptions(raw)
	if len(options) == 0 {
		return nil, fmt.Errorf("options endpoint returned no usable entries")
	}
	return options, nil
}

// CreateTicket submits collected fields and extracts an external reference.
// An empty reference with a nil error means the call succeeded but the
// response carried no recognizable reference; the caller falls back to a
// local one.
func (c *Client) CreateTicket(ctx context.Context, url string, fields map[string]string) (string, error) {
	if url == "" {
		url = c.createURL
	}
	if url == "" {
		return "", fmt.Errorf("no create endpoint configured")
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read ticket response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create endpoint status %d", resp.StatusCode)
	}
	return parseReference(raw), nil
}

// parseOptions accepts a JSON string array, an array of objects with a
// name-like key, a wrapper object, or plain newline-separated text.
func parseOptions(raw []byte) []string {
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return cleanOptions(plain)
	}

	var objects []map[string]any
	if err := json.Unmarshal(raw, &objects); err == nil {
		var options []string
		for _, obj := range objects {
			for _, key := range []string{"name", "title", "label"} {
				if value, ok := obj[key].(string); ok && strings.TrimSpace(value) != "" {
					options = append(options, strings.TrimSpace(value))
					break
				}
			}
		}
		return cleanOptions(options)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		for _, key := range []string{"options", "items", "data"} {
			if inner, ok := wrapper[key]; ok {
				return parseOptions(inner)
			}
		}
		return nil
	}

	return cleanOptions(strings.Split(string(raw), "\n"))
}

func cleanOptions(values []string) []string {
	var options []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			options = append(options, trimmed)
		}
	}
	return options
}

// parseReference extracts a ticket reference from a JSON object under common
// key names, or accepts short opaque text bodies as the reference itself.
func parseReference(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"id", "ticket_id", "reference", "protocol", "number"} {
			switch value := obj[key].(type) {
			case string:
				if strings.TrimSpace(value) != "" {
					return strings.TrimSpace(value)
				}
			case float64:
				return strings.TrimSpace(fmt.Sprintf("%.0f", value))
			}
		}
		return ""
	}

	text := strings.TrimSpace(string(raw))
	if text != "" && len(text) <= 64 && !strings.ContainsAny(text, "\n<>{}") {
		return text
	}
	return ""
}
