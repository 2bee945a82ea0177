package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/planning-poker/planpoker/internal/protocol"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 25 * time.Second
)

// WSClient manages one voter's push channel.
type WSClient struct {
	url string

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	pingStop  context.CancelFunc
	baseDelay time.Duration
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url string) *WSClient {
	return &WSClient{url: url, baseDelay: reconnectBaseDelay}
}

// VoterURL returns the push channel URL of voter on the server at baseURL.
// http and https bases map to ws and wss.
func VoterURL(baseURL, voter string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	escapedBase := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/webSocket/" + voter
	u.RawPath = escapedBase + "/webSocket/" + url.PathEscape(voter)
	return u.String(), nil
}

// Listen returns a Bubble Tea command that connects, retrying with
// exponential backoff. A 404 handshake is not retried: the voter has to join
// again first, so DisconnectedMsg carries ErrNotJoined.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := c.baseDelay
		for {
			if err := ctx.Err(); err != nil {
				return nil
			}

			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				if resp != nil && resp.StatusCode == http.StatusNotFound {
					return DisconnectedMsg{Err: ErrNotJoined}
				}
				slog.Debug("ws dial failed", "error", err, "retry", delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			c.mu.Lock()
			if c.pingStop != nil {
				c.pingStop()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.pingStop = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return ConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that waits for the next update. It
// should be issued again after every UpdateMsg.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: errors.New("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn)
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, protocol.CloseRemoved) {
				return DisconnectedMsg{Err: ErrRemoved}
			}
			return DisconnectedMsg{Err: err}
		}
		return UpdateMsg{Update: protocol.DecodeServerUpdate(data)}
	}
}

// Close shuts the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.drop(conn)
}

func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.pingStop != nil {
			c.pingStop()
			c.pingStop = nil
		}
	}
	c.mu.Unlock()
	conn.Close()
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
