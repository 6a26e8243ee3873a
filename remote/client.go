package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteError is a failure reported by the serving side.
type RemoteError struct {
	Function   string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: http %d: %s", e.Function, e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets a registry served at baseURL. A nil hc gets a client with a 10s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Call invokes the remote function name with params and decodes its result into Resp.
func Call[Resp any](ctx context.Context, c *Client, name string, params any) (Resp, error) {
	var zero Resp

	var body io.Reader = http.NoBody
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return zero, fmt.Errorf("encode params: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+name, body)
	if err != nil {
		return zero, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("remote %s: %w", name, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return zero, &RemoteError{Function: name, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK || env.Error != "" {
		return zero, &RemoteError{Function: name, StatusCode: resp.StatusCode, Message: env.Error}
	}

	var out Resp
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &out); err != nil {
			return zero, fmt.Errorf("remote %s: decode result: %w", name, err)
		}
	}
	return out, nil
}
