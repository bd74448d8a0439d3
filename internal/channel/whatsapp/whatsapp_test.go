package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/agentbridge/internal/bridge"
)

// fakeBridge is a websocket server standing in for the WhatsApp web bridge.
type fakeBridge struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []frame
	conns    []*websocket.Conn
	connCh   chan *websocket.Conn
	frameCh  chan frame
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{
		t:       t,
		connCh:  make(chan *websocket.Conn, 4),
		frameCh: make(chan frame, 16),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *fakeBridge) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()
	b.connCh <- conn

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		b.mu.Lock()
		b.received = append(b.received, f)
		b.mu.Unlock()
		b.frameCh <- f
	}
}

func (b *fakeBridge) close() {
	b.mu.Lock()
	for _, c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.server.Close()
}

func (b *fakeBridge) waitConn() *websocket.Conn {
	b.t.Helper()
	select {
	case c := <-b.connCh:
		return c
	case <-time.After(3 * time.Second):
		b.t.Fatal("channel never connected")
		return nil
	}
}

func (b *fakeBridge) waitFrame() frame {
	b.t.Helper()
	select {
	case f := <-b.frameCh:
		return f
	case <-time.After(3 * time.Second):
		b.t.Fatal("no frame received")
		return frame{}
	}
}

type inbox struct {
	ch chan bridge.InboundMessage
}

func newInbox() *inbox { return &inbox{ch: make(chan bridge.InboundMessage, 16)} }

func (i *inbox) handle(m bridge.InboundMessage) { i.ch <- m }

func (i *inbox) next(t *testing.T) bridge.InboundMessage {
	t.Helper()
	select {
	case m := <-i.ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no inbound message")
		return bridge.InboundMessage{}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startChannel(t *testing.T, opts Options, in *inbox) (*Channel, context.CancelFunc, chan error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	ch := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Start(ctx, in.handle) }()
	t.Cleanup(func() {
		cancel()
		_ = ch.Close()
	})
	return ch, cancel, done
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func waitConnected(t *testing.T, ch *Channel) {
	t.Helper()
	require.Eventually(t, ch.Connected, 3*time.Second, 10*time.Millisecond)
}

func TestInboundMessageMapping(t *testing.T) {
	b := newFakeBridge(t)
	in := newInbox()
	_, _, _ = startChannel(t, Options{BridgeURL: b.url()}, in)
	conn := b.waitConn()

	send(t, conn, map[string]any{
		"type": "message", "id": "m1", "sender": "111@s.whatsapp.net", "pn": "111",
		"content": "hello", "timestamp": 1700000000, "isGroup": false,
	})
	m := in.next(t)
	assert.Equal(t, "111@s.whatsapp.net", m.ConversationID)
	assert.Equal(t, "hello", m.Text)
	assert.False(t, m.IsBroadcast)
	assert.Equal(t, "whatsapp", m.Channel)
	assert.Equal(t, "m1", m.MessageID)

	send(t, conn, map[string]any{"type": "message", "pn": "222", "content": "fallback"})
	assert.Equal(t, "222", in.next(t).ConversationID)

	send(t, conn, map[string]any{"type": "message", "sender": "status@broadcast", "content": "story"})
	m = in.next(t)
	assert.True(t, m.IsBroadcast)
}

func TestNonMessageFramesAreNotDelivered(t *testing.T) {
	b := newFakeBridge(t)
	in := newInbox()
	_, _, _ = startChannel(t, Options{BridgeURL: b.url()}, in)
	conn := b.waitConn()

	send(t, conn, map[string]any{"type": "status", "status": "connected"})
	send(t, conn, map[string]any{"type": "qr", "qr": "xyz"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, map[string]any{"type": "message", "content": "no sender"})
	send(t, conn, map[string]any{"type": "message", "sender": "333", "content": "real"})

	assert.Equal(t, "333", in.next(t).ConversationID)
}

func TestAuthFrameSentFirst(t *testing.T) {
	b := newFakeBridge(t)
	_, _, _ = startChannel(t, Options{BridgeURL: b.url(), BridgeToken: "s3cret"}, newInbox())
	b.waitConn()

	f := b.waitFrame()
	assert.Equal(t, "auth", f.Type)
	assert.Equal(t, "s3cret", f.Token)
}

func TestReplyWritesSendFrame(t *testing.T) {
	b := newFakeBridge(t)
	ch, _, _ := startChannel(t, Options{BridgeURL: b.url()}, newInbox())
	b.waitConn()
	waitConnected(t, ch)

	require.NoError(t, ch.Reply(context.Background(), "111@s.whatsapp.net", "hi there"))
	f := b.waitFrame()
	assert.Equal(t, "send", f.Type)
	assert.Equal(t, "111@s.whatsapp.net", f.To)
	assert.Equal(t, "hi there", f.Text)
}

func TestReplyFrameWireFormat(t *testing.T) {
	raw, err := json.Marshal(frame{Type: "send", To: "111", Text: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"send","to":"111","text":"hi"}`, string(raw))
}

func TestReplyWhileDisconnected(t *testing.T) {
	ch := New(Options{BridgeURL: "ws://127.0.0.1:1", Logger: quietLogger()})
	err := ch.Reply(context.Background(), "111", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAllowFromFiltersSenders(t *testing.T) {
	b := newFakeBridge(t)
	in := newInbox()
	_, _, _ = startChannel(t, Options{BridgeURL: b.url(), AllowFrom: []string{"111"}}, in)
	conn := b.waitConn()

	send(t, conn, map[string]any{"type": "message", "sender": "999@s.whatsapp.net", "content": "blocked"})
	send(t, conn, map[string]any{"type": "message", "sender": "111@s.whatsapp.net", "content": "allowed"})

	m := in.next(t)
	assert.Equal(t, "allowed", m.Text)
	select {
	case extra := <-in.ch:
		t.Fatalf("unexpected message %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	b := newFakeBridge(t)
	in := newInbox()

	var mu sync.Mutex
	var states []string
	onState := func(s string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	_, _, _ = startChannel(t, Options{
		BridgeURL:      b.url(),
		ReconnectDelay: 50 * time.Millisecond,
		OnState:        onState,
	}, in)

	first := b.waitConn()
	_ = first.Close()

	second := b.waitConn()
	send(t, second, map[string]any{"type": "message", "sender": "111", "content": "after reconnect"})
	assert.Equal(t, "after reconnect", in.next(t).Text)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 3)
	assert.Equal(t, []string{StateConnected, StateDisconnected, StateConnected}, states[:3])
}

func TestStartReturnsOnCancel(t *testing.T) {
	b := newFakeBridge(t)
	_, cancel, done := startChannel(t, Options{BridgeURL: b.url()}, newInbox())
	b.waitConn()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStartRetriesWhenBridgeDown(t *testing.T) {
	ch := New(Options{BridgeURL: "ws://127.0.0.1:1", ReconnectDelay: 20 * time.Millisecond, Logger: quietLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.NoError(t, ch.Start(ctx, func(bridge.InboundMessage) {}))
	assert.False(t, ch.Connected())
}
