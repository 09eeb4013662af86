package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"iter"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sesh-im/sesh-go/internal/protocol"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	keepAliveTimeout         = 20 * time.Second
)

// WSConn is a persistent swarm subscription with keep-alive pings and
// automatic reconnection. Envelopes are JSON frames.
type WSConn struct {
	mu      sync.Mutex
	ws      *websocket.Conn
	url     string
	tlsConf *tls.Config
	logger  *log.Logger

	keepAliveInterval time.Duration
	cancel            context.CancelFunc
}

// WSOption configures a WSConn.
type WSOption func(*WSConn)

// WithKeepAliveInterval sets the interval between keep-alive pings.
func WithKeepAliveInterval(d time.Duration) WSOption {
	return func(c *WSConn) { c.keepAliveInterval = d }
}

// WithWSLogger sets a logger for connection events. Nil disables logging.
func WithWSLogger(logger *log.Logger) WSOption {
	return func(c *WSConn) { c.logger = logger }
}

// DialWS opens a persistent subscription to the swarm endpoint for the
// given account.
func DialWS(ctx context.Context, url string, tlsConf *tls.Config, opts ...WSOption) (*WSConn, error) {
	c := &WSConn{
		url:               url,
		tlsConf:           tlsConf,
		keepAliveInterval: defaultKeepAliveInterval,
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	c.cancel = kaCancel
	go c.keepAliveLoop(kaCtx)

	return c, nil
}

func (c *WSConn) dial(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if c.tlsConf != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: c.tlsConf},
		}
	}
	ws, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("transport: dial ws: %w", err)
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	return nil
}

func (c *WSConn) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, keepAliveTimeout)
		start := time.Now()
		err := ws.Ping(pingCtx)
		cancel()
		if err != nil {
			logf(c.logger, "keep-alive failed: %v", err)
			// Drop the connection; the next read will reconnect.
			c.mu.Lock()
			if c.ws == ws {
				_ = ws.CloseNow()
				c.ws = nil
			}
			c.mu.Unlock()
			continue
		}
		logf(c.logger, "keep-alive OK rtt=%s", time.Since(start))
	}
}

// readEnvelope reads the next envelope, reconnecting on broken connections.
func (c *WSConn) readEnvelope(ctx context.Context) (*protocol.Envelope, error) {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		if ws == nil {
			if err := c.dial(ctx); err != nil {
				return nil, err
			}
			continue
		}

		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logf(c.logger, "read error, reconnecting: %v", err)
			c.mu.Lock()
			if c.ws == ws {
				_ = ws.CloseNow()
				c.ws = nil
			}
			c.mu.Unlock()
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("transport: unmarshal envelope: %w", err)
		}
		return &env, nil
	}
}

// Envelopes returns an iterator over inbound envelopes. It stops when the
// context is cancelled or the caller breaks out of the range loop.
func (c *WSConn) Envelopes(ctx context.Context) iter.Seq2[*protocol.Envelope, error] {
	return func(yield func(*protocol.Envelope, error) bool) {
		for {
			env, err := c.readEnvelope(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(env, nil) {
				return
			}
		}
	}
}

// Close stops the keep-alive loop and closes the connection.
func (c *WSConn) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.ws = nil
	return err
}

// logf logs a formatted message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
