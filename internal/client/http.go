package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/planning-poker/planpoker/internal/protocol"
)

// HTTPClient sends voter requests to the server.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:40080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts cr to /request. A reply with the error flag set becomes an
// *ActionError.
func (c *HTTPClient) Send(ctx context.Context, cr protocol.ClientRequest) error {
	var resp protocol.ServerResponse
	if err := c.post(ctx, "/request", cr, &resp); err != nil {
		return err
	}
	if resp.Error {
		return &ActionError{RequestType: cr.RequestType, Message: resp.Message}
	}
	return nil
}

// SendCmd runs Send as a Bubble Tea command.
func (c *HTTPClient) SendCmd(ctx context.Context, cr protocol.ClientRequest) tea.Cmd {
	return func() tea.Msg {
		return RequestDoneMsg{RequestType: cr.RequestType, Err: c.Send(ctx, cr)}
	}
}

// Session fetches /api/session through the tolerant update decoder.
func (c *HTTPClient) Session(ctx context.Context) (protocol.ServerUpdate, error) {
	data, err := c.get(ctx, "/api/session")
	if err != nil {
		return protocol.ServerUpdate{}, err
	}
	return protocol.DecodeServerUpdate(data), nil
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

// post decodes the reply body into out even for 4xx statuses, since the
// server explains rejected requests in a ServerResponse.
func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 || json.Unmarshal(raw, out) != nil {
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, string(raw))
	}
	return nil
}
