package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/erdlink/erdlink-go/pkg/auth"
	"github.com/erdlink/erdlink-go/pkg/connection"
	"github.com/erdlink/erdlink-go/pkg/log"
	"github.com/erdlink/erdlink-go/pkg/version"
)

// Defaults.
const (
	// DefaultConnectTimeout bounds the websocket handshake.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultMaxMessageSize is the largest frame accepted from the cloud.
	DefaultMaxMessageSize = 64 * 1024
)

// Errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
	ErrMissingToken     = errors.New("missing access token")
	ErrTokenExpired     = errors.New("access token expired")
)

// ClientConfig configures a websocket Client.
type ClientConfig struct {
	// URL is the websocket endpoint (ws, wss, http or https).
	URL string

	// HTTPClient performs the handshake (default: http.DefaultClient).
	HTTPClient *http.Client

	// ConnectTimeout bounds the handshake (default: 30s).
	ConnectTimeout time.Duration

	// MaxMessageSize is the read limit per frame (default: 64KB).
	MaxMessageSize int64

	// KeepAlive configuration.
	KeepAlive KeepAliveConfig

	// Logger is the operational logger (nil disables logging).
	Logger *slog.Logger

	// ProtocolLogger records every frame sent and received (nil disables capture).
	ProtocolLogger log.Logger
}

// Client drives an appliance cloud websocket. It implements
// connection.Transport.
type Client struct {
	config ClientConfig
	logger *slog.Logger
	plog   log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	sessionID string
	timedOut  bool
}

// NewClient creates a websocket client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("websocket URL is required")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	plog := config.ProtocolLogger
	if plog == nil {
		plog = log.NoopLogger{}
	}

	return &Client{config: config, logger: logger, plog: plog}, nil
}

// Drive connects with creds, subscribes, confirms the connection through
// link and then processes frames until the connection ends.
//
// It returns nil after Teardown or a normal closure by the server, the
// context error when ctx is cancelled, and an error wrapping
// connection.ErrTransport for every other failure.
func (c *Client) Drive(ctx context.Context, creds auth.Credentials, link connection.Link) error {
	if creds.AccessToken == "" {
		return fmt.Errorf("%w: %w", connection.ErrTransport, ErrMissingToken)
	}
	if !creds.Valid(time.Now()) {
		return fmt.Errorf("%w: %w", connection.ErrTransport, ErrTokenExpired)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.sessionID = link.SessionID()
	c.timedOut = false
	c.mu.Unlock()

	conn, err := c.dial(ctx, creds)
	if err != nil {
		if ctx.Err() != nil && parent.Err() == nil {
			return nil
		}
		return fmt.Errorf("%w: %w", connection.ErrTransport, err)
	}
	conn.SetReadLimit(c.config.MaxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.release(conn)

	if err := c.write(ctx, conn, Message{Kind: KindSubscribe, ID: uuid.NewString(), UserID: creds.UserID}); err != nil {
		return fmt.Errorf("%w: subscribe: %w", connection.ErrTransport, err)
	}

	c.logger.Info("websocket connected", "url", c.config.URL)
	link.SetConnected()

	ka := NewKeepAlive(c.config.KeepAlive, conn.Ping, func() {
		c.logger.Warn("keep-alive timeout, closing connection")
		c.mu.Lock()
		c.timedOut = true
		c.mu.Unlock()
		conn.CloseNow()
	})
	ka.SetPongReceivedCallback(func(latency time.Duration) {
		c.logger.Debug("pong", "latency", latency)
	})
	ka.Start(ctx)
	defer ka.Stop()

	return c.readLoop(ctx, parent, conn, link)
}

func (c *Client) dial(ctx context.Context, creds auth.Credentials) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", creds.Bearer())
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := websocket.Dial(dialCtx, c.config.URL, &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx, parent context.Context, conn *websocket.Conn, link connection.Link) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return c.readError(ctx, parent, err)
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary frame", "size", len(data))
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed frame", "error", err, "size", len(data))
			c.captureError(fmt.Sprintf("malformed frame: %v", err))
			continue
		}
		c.captureMessage(log.DirectionIn, msg, len(data))
		c.handle(msg, link)
	}
}

func (c *Client) readError(ctx, parent context.Context, err error) error {
	c.mu.Lock()
	timedOut := c.timedOut
	c.mu.Unlock()

	switch {
	case timedOut:
		return fmt.Errorf("%w: %w", connection.ErrTransport, ErrKeepAliveTimeout)
	case parent.Err() != nil:
		return parent.Err()
	case ctx.Err() != nil:
		// Teardown
		return nil
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		c.logger.Info("websocket closed by server")
		return nil
	default:
		return fmt.Errorf("%w: read: %w", connection.ErrTransport, err)
	}
}

func (c *Client) handle(msg Message, link connection.Link) {
	switch msg.Kind {
	case KindPublish:
		if msg.ApplianceID == "" {
			c.logger.Warn("publish frame without appliance id")
			return
		}
		a := link.Appliance(msg.ApplianceID)
		link.ApplianceUpdated(a, msg.Attributes)

	case KindAvailability:
		if msg.ApplianceID == "" || msg.Available == nil {
			c.logger.Warn("incomplete availability frame", "appliance_id", msg.ApplianceID)
			return
		}
		link.SetApplianceAvailability(link.Appliance(msg.ApplianceID), *msg.Available)

	case KindError:
		c.logger.Warn("cloud reported an error", "request_id", msg.ID, "appliance_id", msg.ApplianceID, "error", msg.Error)
		c.captureError(msg.Error)

	default:
		c.logger.Debug("ignoring frame", "kind", msg.Kind)
	}
}

// SetValue writes a single attribute on an appliance.
func (c *Client) SetValue(ctx context.Context, applianceID, attr, value string) error {
	return c.send(ctx, Message{
		Kind:        KindSet,
		ID:          uuid.NewString(),
		ApplianceID: applianceID,
		Attributes:  map[string]string{attr: value},
	})
}

// RequestUpdate asks the cloud to resend every attribute of an appliance.
func (c *Client) RequestUpdate(ctx context.Context, applianceID string) error {
	return c.send(ctx, Message{
		Kind:        KindRequestUpdate,
		ID:          uuid.NewString(),
		ApplianceID: applianceID,
	})
}

// Connected reports whether a websocket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Teardown closes the websocket and ends a running Drive. It is a no-op
// when nothing is connected.
func (c *Client) Teardown() {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

func (c *Client) send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return c.write(ctx, conn, msg)
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	c.captureMessage(log.DirectionOut, msg, len(data))
	return nil
}

func (c *Client) release(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.cancel = nil
	}
	c.mu.Unlock()
	conn.CloseNow()
}

func (c *Client) captureMessage(dir log.Direction, msg Message, size int) {
	c.plog.Log(log.Event{
		Timestamp:   time.Now(),
		SessionID:   c.session(),
		Direction:   dir,
		Layer:       log.LayerTransport,
		Category:    log.CategoryMessage,
		ApplianceID: msg.ApplianceID,
		Message: &log.MessageEvent{
			Kind:       string(msg.Kind),
			Size:       size,
			Attributes: msg.Attributes,
		},
	})
}

func (c *Client) captureError(message string) {
	c.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: c.session(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: log.LayerTransport, Message: message},
	})
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

var _ connection.Transport = (*Client)(nil)
