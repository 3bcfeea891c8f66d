// Package ari implements a small client for Asterisk's REST Interface: the
// HTTP control surface (channels, bridges, playback) and the WebSocket event
// subscriber used to drive the Stasis application (spec §4.3).
package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAllocationFailed is returned by Originate when Asterisk reports a
// channel-allocation failure; the caller must pause ≥30s before retrying
// (spec §4.3, §7).
var ErrAllocationFailed = errors.New("ari: allocation failed")

const requestTimeout = 30 * time.Second

// Client is a process-wide ARI HTTP client. It is safe for concurrent use by
// many CallSessions (spec §5: "shared resource policy").
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewClient builds an ARI client against http://host:port/ari.
func NewClient(host string, port int, username, password string) *Client {
	scheme := "http"
	return &Client{
		baseURL:  fmt.Sprintf("%s://%s:%d/ari", scheme, host, port),
		username: username,
		password: password,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// WebSocketURL returns the ws:// events URL for the given Stasis app.
func (c *Client) WebSocketURL(app string) string {
	u := strings.Replace(c.baseURL, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	q := url.Values{}
	q.Set("api_key", c.username+":"+c.password)
	q.Set("app", app)
	return u + "/events?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, err
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ari: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// Originate starts a new channel dialing endpoint into the given Stasis app.
// vars become Asterisk channel variables visible to the dialplan/Stasis app.
func (c *Client) Originate(ctx context.Context, endpoint, app, callerID string, vars map[string]string) (string, error) {
	payload := map[string]any{
		"endpoint": endpoint,
		"app":      app,
	}
	if callerID != "" {
		payload["callerId"] = callerID
	}
	if len(vars) > 0 {
		payload["variables"] = vars
	}

	body, status, err := c.do(ctx, http.MethodPost, "/channels", nil, payload)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		if strings.Contains(string(body), "Allocation failed") {
			return "", ErrAllocationFailed
		}
		return "", fmt.Errorf("ari: originate failed (%d): %s", status, body)
	}

	var ch Channel
	if err := json.Unmarshal(body, &ch); err != nil {
		return "", fmt.Errorf("ari: originate response decode: %w", err)
	}
	return ch.ID, nil
}

// ExternalMediaOptions configures createExternalMedia.
type ExternalMediaOptions struct {
	App            string
	ExternalHost   string // "<local-ip>:<port>"
	Format         string // "ulaw" or "alaw"
	Encapsulation  string // "rtp"
	Transport      string // "udp"
	ConnectionType string // "client"
}

// CreateExternalMedia allocates an ExternalMedia pseudo-channel that shuttles
// RTP to ExternalHost (spec §4.5 step 4).
func (c *Client) CreateExternalMedia(ctx context.Context, opts ExternalMediaOptions) (string, error) {
	payload := map[string]any{
		"app":             opts.App,
		"external_host":   opts.ExternalHost,
		"format":          opts.Format,
		"encapsulation":   valueOr(opts.Encapsulation, "rtp"),
		"transport":       valueOr(opts.Transport, "udp"),
		"connection_type": valueOr(opts.ConnectionType, "client"),
	}

	body, status, err := c.do(ctx, http.MethodPost, "/channels/externalMedia", nil, payload)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("ari: createExternalMedia failed (%d): %s", status, body)
	}

	var ch Channel
	if err := json.Unmarshal(body, &ch); err != nil {
		return "", fmt.Errorf("ari: createExternalMedia response decode: %w", err)
	}
	return ch.ID, nil
}

// CreateBridge creates a bridge of the given type ("mixing" for this bridge's
// use) with an optional caller-supplied id.
func (c *Client) CreateBridge(ctx context.Context, bridgeType, id string) (string, error) {
	payload := map[string]any{"type": bridgeType}
	if id != "" {
		payload["bridgeId"] = id
	}
	body, status, err := c.do(ctx, http.MethodPost, "/bridges", nil, payload)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("ari: createBridge failed (%d): %s", status, body)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("ari: createBridge response decode: %w", err)
	}
	return out.ID, nil
}

// AddChannel adds a channel to a bridge. Both 200 and 204 are success
// (spec §4.3).
func (c *Client) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	q := url.Values{"channel": {channelID}}
	_, status, err := c.do(ctx, http.MethodPost, "/bridges/"+bridgeID+"/addChannel", q, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("ari: addChannel failed (%d)", status)
	}
	return nil
}

// DeleteBridge destroys a bridge. Missing bridges are non-fatal.
func (c *Client) DeleteBridge(ctx context.Context, bridgeID string) error {
	_, status, err := c.do(ctx, http.MethodDelete, "/bridges/"+bridgeID, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("ari: deleteBridge failed (%d)", status)
	}
	return nil
}

// PlaySound starts playback of a dialplan-resolved sound ("sound:<name>") on
// a channel, returning the playback id.
func (c *Client) PlaySound(ctx context.Context, channelID, media string) (string, error) {
	q := url.Values{"media": {media}}
	body, status, err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/play", q, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("ari: playSound failed (%d): %s", status, body)
	}
	var pb Playback
	if err := json.Unmarshal(body, &pb); err != nil {
		return "", fmt.Errorf("ari: playSound response decode: %w", err)
	}
	return pb.ID, nil
}

// GetChannelVar reads a channel variable. Missing variables are returned as
// ("", nil) rather than an error (spec §4.3: "missing variables are not
// errors").
func (c *Client) GetChannelVar(ctx context.Context, channelID, name string) (string, error) {
	q := url.Values{"variable": {name}}
	body, status, err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/variable", q, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status >= 300 {
		return "", fmt.Errorf("ari: getChannelVar(%s) failed (%d): %s", name, status, body)
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", nil
	}
	return out.Value, nil
}

// Hangup terminates a channel. Missing channels are non-fatal.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	_, status, err := c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("ari: hangup failed (%d)", status)
	}
	return nil
}

// ListChannels enumerates all live channels, used for the orphan sweep
// (spec §4.3, §4.5).
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/channels", nil, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("ari: listChannels failed (%d): %s", status, body)
	}
	var channels []Channel
	if err := json.Unmarshal(body, &channels); err != nil {
		return nil, fmt.Errorf("ari: listChannels response decode: %w", err)
	}
	return channels, nil
}

// GetChannel fetches one channel's current state.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("ari: getChannel failed (%d): %s", status, body)
	}
	var ch Channel
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("ari: getChannel response decode: %w", err)
	}
	return &ch, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
