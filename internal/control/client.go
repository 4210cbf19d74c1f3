package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"calmh.dev/tripd/internal/trip"
)

var _ Store = (*Client)(nil)

// Client talks to a running daemon's control API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the daemon at base, e.g.
// "http://127.0.0.1:9141".
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Items(ctx context.Context) ([]trip.Item, error) {
	var items []trip.Item
	if err := c.do(ctx, http.MethodGet, "/api/trips", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) StartCalculation(ctx context.Context, unit trip.Unit) (trip.Item, error) {
	var item trip.Item
	body := map[string]string{"unit": unit.String()}
	if err := c.do(ctx, http.MethodPost, "/api/calculation", body, &item); err != nil {
		return trip.Item{}, err
	}
	return item, nil
}

func (c *Client) StopCalculation(ctx context.Context) (int, error) {
	var res struct {
		Deleted int `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/calculation", nil, &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, into any) error {
	var rd io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: %s: %w", method, path, resp.Status, err)
	}
	if resp.StatusCode >= 300 {
		if envelope.Error == "" {
			envelope.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, envelope.Error)
	}
	return json.Unmarshal(envelope.Data, into)
}
