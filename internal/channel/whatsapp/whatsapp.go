// Package whatsapp connects to a WhatsApp web bridge process over a websocket.
// The bridge owns the WhatsApp session; this side only exchanges JSON frames.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/agentbridge/internal/bridge"
	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/log"
)

const (
	channelName           = "whatsapp"
	broadcastSuffix       = "@broadcast"
	defaultReconnectDelay = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

// ErrNotConnected is returned by Reply while no bridge connection is open.
var ErrNotConnected = errors.New("whatsapp: bridge not connected")

// Connection states reported through Options.OnState.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// frame is the bridge wire format for both directions.
type frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Sender  string `json:"sender,omitempty"`
	PN      string `json:"pn,omitempty"`
	Content string `json:"content,omitempty"`
	IsGroup bool   `json:"isGroup,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	Token   string `json:"token,omitempty"`
	To      string `json:"to,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Options configures a Channel.
type Options struct {
	BridgeURL      string
	BridgeToken    string
	AllowFrom      []string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
	// OnState is called on every connect and disconnect.
	OnState func(state string)
}

// Channel is the WhatsApp bridge transport.
type Channel struct {
	opts   Options
	logger *slog.Logger
	allow  map[string]struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
}

// New creates a Channel. It does not connect until Start.
func New(opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent(channelName)
	}
	allow := make(map[string]struct{}, len(opts.AllowFrom))
	for _, id := range opts.AllowFrom {
		if id = strings.TrimSpace(id); id != "" {
			allow[id] = struct{}{}
		}
	}
	return &Channel{opts: opts, logger: opts.Logger, allow: allow}
}

// NewFromConfig builds a Channel from the whatsapp config section.
func NewFromConfig(cfg config.WhatsAppConfig, onState func(string)) *Channel {
	return New(Options{
		BridgeURL:      cfg.BridgeURL,
		BridgeToken:    cfg.BridgeToken,
		AllowFrom:      cfg.AllowFrom,
		ReconnectDelay: cfg.ReconnectDelay,
		OnState:        onState,
	})
}

// Name returns "whatsapp".
func (c *Channel) Name() string { return channelName }

// Start connects to the bridge and reconnects after every failure until ctx
// is cancelled or Close is called.
func (c *Channel) Start(ctx context.Context, handle bridge.Handler) error {
	c.logger.Info("connecting to whatsapp bridge", "url", c.opts.BridgeURL)
	for {
		err := c.connectOnce(ctx, handle)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		c.logger.Warn("whatsapp bridge connection lost, reconnecting",
			"error", err,
			"delay", c.opts.ReconnectDelay,
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Channel) connectOnce(ctx context.Context, handle bridge.Handler) error {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}

	if c.opts.BridgeToken != "" {
		if err := conn.WriteJSON(frame{Type: "auth", Token: c.opts.BridgeToken}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("send auth: %w", err)
		}
	}

	if !c.setConn(conn) {
		_ = conn.Close()
		return nil
	}
	c.logger.Info("connected to whatsapp bridge")
	c.notify(StateConnected)

	stop := make(chan struct{})
	defer func() {
		close(stop)
		c.clearConn(conn)
		c.notify(StateDisconnected)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(raw, handle)
	}
}

func (c *Channel) handleFrame(raw []byte, handle bridge.Handler) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Warn("ignoring malformed bridge frame", "error", err)
		return
	}

	switch f.Type {
	case "message":
		conversationID := f.Sender
		if conversationID == "" {
			conversationID = f.PN
		}
		if conversationID == "" {
			c.logger.Warn("ignoring message without sender", "message_id", f.ID)
			return
		}
		if !c.allowed(f.Sender, f.PN) {
			c.logger.Debug("dropping message from sender not in allow_from", "conversation_id", conversationID)
			return
		}
		handle(bridge.InboundMessage{
			ConversationID: conversationID,
			Text:           f.Content,
			IsBroadcast:    strings.HasSuffix(conversationID, broadcastSuffix),
			Channel:        channelName,
			MessageID:      f.ID,
		})
	case "status":
		c.logger.Info("whatsapp bridge status", "status", f.Status)
	case "qr":
		c.logger.Info("scan the QR code in the whatsapp bridge terminal")
	case "error":
		c.logger.Error("whatsapp bridge error", "error", f.Error)
	default:
		c.logger.Debug("ignoring bridge frame", "type", f.Type)
	}
}

// Reply sends text to a conversation through the bridge.
func (c *Channel) Reply(ctx context.Context, conversationID, text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("whatsapp: set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame{Type: "send", To: conversationID, Text: text}); err != nil {
		return fmt.Errorf("whatsapp: send: %w", err)
	}
	return nil
}

// Close ends the current connection and stops reconnecting.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether a bridge connection is open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Channel) allowed(ids ...string) bool {
	if len(c.allow) == 0 {
		return true
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.allow[id]; ok {
			return true
		}
		if user, _, found := strings.Cut(id, "@"); found {
			if _, ok := c.allow[user]; ok {
				return true
			}
		}
	}
	return false
}

func (c *Channel) setConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Channel) clearConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) notify(state string) {
	if c.opts.OnState != nil {
		c.opts.OnState(state)
	}
}
