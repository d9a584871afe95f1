package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/config"
)

// Client talks to the messaging gateway. All calls carry the instance-scoped
// API key header and a bounded timeout; sends are rate limited client-side.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a gateway client from config.
func NewClient(log *slog.Logger, cfg config.GatewayConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.SendRPS
	if rps <= 0 {
		rps = config.DefaultGatewayRPS
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  log.With(slog.String("component", "gateway")),
	}
}

// SendText sends a text message to a recipient through the given instance.
func (c *Client) SendText(ctx context.Context, instance, number, text string) error {
	if strings.TrimSpace(number) == "" {
		return fmt.Errorf("recipient number is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}
	payload := map[string]string{
		"number": number,
		"text":   text,
	}
	var ignored json.RawMessage
	if err := c.post(ctx, "/message/sendText/"+instance, payload, &ignored); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// FetchEncodedMedia retrieves the base64-encoded media blob for a message
// envelope and decodes it.
func (c *Client) FetchEncodedMedia(ctx context.Context, instance string, envelope json.RawMessage) (MediaBlob, error) {
	payload := map[string]json.RawMessage{
		"message": envelope,
	}
	var resp struct {
		Base64   string `json:"base64"`
		Mimetype string `json:"mimetype"`
	}
	if err := c.post(ctx, "/chat/getBase64FromMediaMessage/"+instance, payload, &resp); err != nil {
		return MediaBlob{}, fmt.Errorf("fetch media: %w", err)
	}
	if strings.TrimSpace(resp.Base64) == "" {
		return MediaBlob{}, fmt.Errorf("fetch media: empty payload")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Base64)
	if err != nil {
		return MediaBlob{}, fmt.Errorf("fetch media: decode base64: %w", err)
	}
	return MediaBlob{Data: data, Mime: strings.TrimSpace(resp.Mimetype)}, nil
}

// FetchProfilePicture looks up the avatar URL for a number. Best-effort:
// callers treat failures as non-fatal.
func (c *Client) FetchProfilePicture(ctx context.Context, instance, number string) (string, error) {
	payload := map[string]string{
		"number": number,
	}
	var resp struct {
		ProfilePictureURL string `json:"profilePictureUrl"`
	}
	if err := c.post(ctx, "/chat/fetchProfilePictureUrl/"+instance, payload, &resp); err != nil {
		return "", fmt.Errorf("fetch profile picture: %w", err)
	}
	return strings.TrimSpace(resp.ProfilePictureURL), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
