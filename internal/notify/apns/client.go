// Package apns provides the APNs HTTP/2 client used to wake Wallet for pass
// updates. Pushes are background (content-available) notifications: no alert,
// no payload beyond the wake signal.
package apns

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/passrelay/passrelay/internal/resilience"
)

// Well-known APNs hosts.
const (
	HostProduction  = "https://api.push.apple.com"
	HostDevelopment = "https://api.sandbox.push.apple.com"
)

// backgroundPayload is the fixed body for a silent wake push.
const backgroundPayload = `{"aps":{"content-available":1}}`

// Result classifies the outcome of one delivery attempt.
type Result int

const (
	// Delivered means APNs accepted the notification.
	Delivered Result = iota
	// InvalidToken means the device token is no longer usable and the
	// registration is a candidate for cleanup.
	InvalidToken
	// Failed means a transient or unexpected delivery failure.
	Failed
)

// Config holds configuration for the APNs client.
type Config struct {
	// Host selects the APNs environment. Default: HostProduction.
	Host string

	// Token issues provider authentication tokens.
	Token *ProviderToken

	// Timeout bounds a single delivery attempt. Default: 5s.
	Timeout time.Duration
}

// Client sends background pushes to individual device tokens.
type Client struct {
	host  string
	token *ProviderToken
	http  *resilience.Client
}

// NewClient creates a new APNs client.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = HostProduction
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		host:  cfg.Host,
		token: cfg.Token,
		http: resilience.NewClient(resilience.ClientConfig{
			Name:    "apns",
			Timeout: cfg.Timeout,
		}),
	}
}

// apnsError is the error body APNs returns on non-2xx responses.
type apnsError struct {
	Reason string `json:"reason"`
}

// Push delivers one background notification to deviceToken under the given
// topic (the pass type identifier). The returned Result lets the caller
// distinguish dead tokens from transient failures; both are non-fatal to the
// surrounding fan-out.
func (c *Client) Push(ctx context.Context, topic, deviceToken string) (Result, error) {
	url := fmt.Sprintf("%s/3/device/%s", c.host, deviceToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(backgroundPayload))
	if err != nil {
		return Failed, fmt.Errorf("build push request: %w", err)
	}

	bearer, err := c.token.Bearer()
	if err != nil {
		return Failed, err
	}

	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", topic)
	req.Header.Set("apns-push-type", "background")
	req.Header.Set("apns-priority", "5")
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return Failed, fmt.Errorf("apns request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return Delivered, nil
	}

	var apiErr apnsError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(body, &apiErr)

	if isInvalidToken(resp.StatusCode, apiErr.Reason) {
		return InvalidToken, fmt.Errorf("apns rejected token: %s", apiErr.Reason)
	}

	return Failed, fmt.Errorf("apns returned %d: %s", resp.StatusCode, apiErr.Reason)
}

// isInvalidToken reports whether the rejection means the token itself is dead.
func isInvalidToken(status int, reason string) bool {
	if status == http.StatusGone { // Unregistered
		return true
	}
	switch reason {
	case "BadDeviceToken", "DeviceTokenNotForTopic", "ExpiredToken":
		return true
	}
	return false
}
