// Package botapi connects tenant runtimes to the bot gateway over
// WebSocket. Each started tenant holds one long-lived connection,
// authenticated with the tenant's platform credential; the gateway does the
// actual message transport, which is out of scope here.
package botapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/provikash/botfleet/internal/fleet"
	"github.com/provikash/botfleet/internal/logging"
)

// Compile-time checks against the fleet contracts.
var (
	_ fleet.RuntimeFactory = (*Factory)(nil)
	_ fleet.TenantRuntime  = (*Client)(nil)
)

var errProbeTimeout = errors.New("botapi: health probe timed out")

// Factory dials gateway connections for tenants.
type Factory struct {
	gatewayURL string
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// NewFactory creates a runtime factory for the given gateway URL.
func NewFactory(gatewayURL string, logger *slog.Logger) *Factory {
	return &Factory{
		gatewayURL: gatewayURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}
}

// Connect dials the gateway for one tenant. The credential and storage
// locator travel as headers; the gateway rejects bad credentials at the
// handshake.
func (f *Factory) Connect(ctx context.Context, credential, storageLocator string) (fleet.TenantRuntime, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)
	header.Set("X-Storage-Locator", storageLocator)

	conn, resp, err := f.dialer.DialContext(ctx, f.gatewayURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("botapi: dial gateway (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("botapi: dial gateway: %w", err)
	}

	c := &Client{
		conn:   conn,
		logger: f.logger.With("credential", logging.RedactCredential(credential)),
		pong:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case c.pong <- struct{}{}:
		default:
		}
		return nil
	})
	go c.readLoop()

	return c, nil
}

// Client is one tenant's live gateway connection.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	pong chan struct{}
	done chan struct{} // closed when readLoop exits

	closeOnce sync.Once
}

// readLoop drains the connection so control frames (pongs, closes) are
// processed. Inbound data frames belong to the transport layer, not the
// fleet host; they are discarded here.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.logger.Debug("gateway connection closed", "error", err)
			}
			return
		}
	}
}

// HealthProbe pings the gateway and waits for the pong.
func (c *Client) HealthProbe(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}

	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("botapi: write ping: %w", err)
	}

	select {
	case <-c.pong:
		return nil
	case <-c.done:
		return errors.New("botapi: connection closed during probe")
	case <-ctx.Done():
		return errProbeTimeout
	}
}

// Close performs a graceful WebSocket shutdown: send the close frame, give
// the peer up to grace to acknowledge, then tear the connection down.
func (c *Client) Close(_ context.Context, grace time.Duration) error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(grace)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		select {
		case <-c.done:
		case <-time.After(grace):
		}
		err = c.conn.Close()
	})
	return err
}
