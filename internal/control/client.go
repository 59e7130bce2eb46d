package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/daemonp/amt2mqtt/internal/amt"
)

// DefaultTimeout covers the slowest command, a multi-zone bypass.
const DefaultTimeout = 60 * time.Second

// Client talks to a running daemon's control API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(host string, port int) *Client {
	return NewClientWithURL(fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port))))
}

func NewClientWithURL(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Connected(ctx context.Context) (bool, error) {
	var resp struct {
		Connected bool `json:"connected"`
	}
	if err := c.do(ctx, http.MethodGet, "/connected", nil, &resp); err != nil {
		return false, err
	}
	return resp.Connected, nil
}

func (c *Client) Arm(ctx context.Context, partition string, stay bool, password string) error {
	return c.command(ctx, "arm", ArmRequest{Partition: partition, Stay: stay, Password: password})
}

func (c *Client) Disarm(ctx context.Context, partition, password string) error {
	return c.command(ctx, "disarm", ArmRequest{Partition: partition, Password: password})
}

func (c *Client) Siren(ctx context.Context, on bool) error {
	return c.command(ctx, "siren", ActionRequest{Action: onOff(on)})
}

func (c *Client) PGM(ctx context.Context, number int, on bool) error {
	return c.command(ctx, "pgm", ActionRequest{Number: number, Action: onOff(on)})
}

func (c *Client) Bypass(ctx context.Context) error {
	return c.command(ctx, "bypass", struct{}{})
}

// Raw returns the panel result even when the command failed on the panel.
func (c *Client) Raw(ctx context.Context, command, password string) (*amt.RawResult, error) {
	var result amt.RawResult
	err := c.do(ctx, http.MethodPost, "/command/raw", RawRequest{Command: command, Password: password}, &result)
	if err != nil && result.Command == "" && result.Error == "" {
		return nil, err
	}
	return &result, nil
}

func (c *Client) command(ctx context.Context, name string, body interface{}) error {
	var resp CommandResponse
	return c.do(ctx, http.MethodPost, "/command/"+name, body, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	// Error bodies share the CommandResponse shape; raw results carry more.
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("control API returned %s", resp.Status)
	}
	json.Unmarshal(raw, out)
	var cr CommandResponse
	if json.Unmarshal(raw, &cr) == nil && cr.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", cr.Error, resp.StatusCode)
	}
	return fmt.Errorf("control API returned %s", resp.Status)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
