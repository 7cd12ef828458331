package coordinator

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// pollInterval is how often the client retries endpoints that answer 400
// until the rest of the committee catches up.
const pollInterval = 250 * time.Millisecond

// Client bootstraps a node against a coordinator.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the coordinator at the given base URL.
func NewClient(base string) *Client {
	return &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

// Identity requests a node index.
func (c *Client) Identity(ctx context.Context) (uint64, error) {
	var index uint64
	if err := c.post(ctx, "/identity", nil, &index); err != nil {
		return 0, err
	}
	return index, nil
}

// Config fetches the network configuration for the given node index,
// retrying until the coordinator's bootstrap requirements are met.
func (c *Client) Config(ctx context.Context, index uint64) (NetworkConfig, error) {
	var config NetworkConfig
	err := c.poll(ctx, func() error {
		return c.post(ctx, fmt.Sprintf("/config/%d", index), nil, &config)
	})
	return config, err
}

// RegisterPubKey posts the node's public key behind the 8-byte length prefix
// the coordinator expects.
func (c *Client) RegisterPubKey(ctx context.Context, index uint64, key []byte) error {
	body := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(body[:8], uint64(len(key)))
	copy(body[8:], key)
	return c.post(ctx, fmt.Sprintf("/pubkey/%d", index), body, nil)
}

// ConfigAfterPeerCollected blocks until every peer registered, then returns
// the configuration with the filled stake table.
func (c *Client) ConfigAfterPeerCollected(ctx context.Context) (NetworkConfig, error) {
	err := c.poll(ctx, func() error {
		var ready bool
		return c.get(ctx, "/peer_pubconfig_ready", &ready)
	})
	if err != nil {
		return NetworkConfig{}, err
	}
	var config NetworkConfig
	if err := c.get(ctx, "/config_after_peer_collected", &config); err != nil {
		return NetworkConfig{}, err
	}
	return config, nil
}

// Ready reports this node ready and blocks until the whole committee is.
func (c *Client) Ready(ctx context.Context) error {
	if err := c.post(ctx, "/ready", nil, nil); err != nil {
		return err
	}
	return c.poll(ctx, func() error {
		var start bool
		return c.get(ctx, "/start", &start)
	})
}

// PostResults uploads run results.
func (c *Client) PostResults(ctx context.Context, results any) error {
	body, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return c.post(ctx, "/results", body, nil)
}

func (c *Client) poll(ctx context.Context, attempt func() error) error {
	for {
		err := attempt()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("coordinator answered %d: %s", resp.StatusCode, bytes.TrimSpace(message))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
