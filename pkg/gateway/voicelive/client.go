package voicelive

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

	"github.com/gorilla/websocket"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/bridge"
)

// TokenProvider supplies the access token used on the realtime connection.
// Token acquisition (managed identity, token service, static key) stays
// behind this boundary.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token, typically from the environment.
type StaticTokenProvider string

func (p StaticTokenProvider) Token(_ context.Context) (string, error) {
	if p == "" {
		return "", errors.New("voicelive: empty access token")
	}
	return string(p), nil
}

// Config locates the realtime endpoint.
type Config struct {
	// Endpoint is the service base URL (https scheme; rewritten to wss).
	Endpoint string

	APIVersion  string
	ProjectName string
	AgentID     string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

// Client is a realtime websocket connection implementing bridge.Backend.
// Reads happen on ReadLoop's goroutine; writes are serialized by a mutex.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closed  bool
}

// Dial connects, authenticates and returns a ready client. The caller is
// expected to send the session configuration next.
func Dial(ctx context.Context, cfg Config, tokens TokenProvider, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire access token: %w", err)
	}

	wsURL, err := realtimeURL(cfg, token)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

func realtimeURL(cfg Config, token string) (string, error) {
	base := strings.TrimRight(cfg.Endpoint, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	u, err := url.Parse(base + "/voice-live/realtime")
	if err != nil {
		return "", fmt.Errorf("parse realtime endpoint: %w", err)
	}
	q := url.Values{}
	q.Set("api-version", cfg.APIVersion)
	if cfg.ProjectName != "" {
		q.Set("agent-project-name", cfg.ProjectName)
	}
	if cfg.AgentID != "" {
		q.Set("agent-id", cfg.AgentID)
	}
	q.Set("agent-access-token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return errors.New("voicelive: connection closed")
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// ConfigureSession sends the session.update that enables semantic VAD,
// noise suppression, echo cancellation and the synthesis voice, then asks
// for the opening response.
func (c *Client) ConfigureSession(_ context.Context, opts SessionOptions) error {
	update, err := encodeSessionUpdate(opts)
	if err != nil {
		return fmt.Errorf("encode session update: %w", err)
	}
	if err := c.send(update); err != nil {
		return fmt.Errorf("send session update: %w", err)
	}

	create, err := encodeResponseCreate()
	if err != nil {
		return fmt.Errorf("encode response create: %w", err)
	}
	if err := c.send(create); err != nil {
		return fmt.Errorf("send response create: %w", err)
	}
	return nil
}

// AppendAudio implements bridge.Backend.
func (c *Client) AppendAudio(_ context.Context, pcm []byte) error {
	payload, err := encodeAudioAppend(pcm)
	if err != nil {
		return err
	}
	return c.send(payload)
}

// CommitInput implements bridge.Backend.
func (c *Client) CommitInput(_ context.Context) error {
	payload, err := encodeInputCommit()
	if err != nil {
		return err
	}
	return c.send(payload)
}

// ClearInput implements bridge.Backend.
func (c *Client) ClearInput(_ context.Context) error {
	payload, err := encodeInputClear()
	if err != nil {
		return err
	}
	return c.send(payload)
}

// CancelResponse implements bridge.Backend.
func (c *Client) CancelResponse(_ context.Context, responseID string) error {
	payload, err := encodeResponseCancel(responseID)
	if err != nil {
		return err
	}
	return c.send(payload)
}

// Close implements bridge.Backend. Safe to call more than once.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// ReadLoop pumps decoded events into handler until the connection closes or
// ctx is canceled. Unknown message types and transport noise are skipped.
func (c *Client) ReadLoop(ctx context.Context, handler func(bridge.BackendEvent)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read backend message: %w", err)
		}

		ev, err := DecodeEvent(raw)
		if err != nil {
			c.logger.Debug("skipping malformed backend message", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		handler(ev)
	}
}
