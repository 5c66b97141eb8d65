package popup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gemini-wallet/bridge/pkg/log"
	"github.com/gemini-wallet/bridge/pkg/wire"
)

// WebsocketOpenerConfig contains configuration options for the WebSocket opener.
type WebsocketOpenerConfig struct {
	// HandshakeTimeout is the duration to wait for the WebSocket handshake
	// to complete before reporting the popup as blocked.
	HandshakeTimeout time.Duration

	// InboundChanSize is the buffer size for the inbound message channel.
	// A larger buffer prevents the read loop from dropping messages while
	// the Communicator is dispatching.
	InboundChanSize int
}

// DefaultWebsocketOpenerConfig provides sensible defaults for wallet popups.
var DefaultWebsocketOpenerConfig = WebsocketOpenerConfig{
	HandshakeTimeout: 5 * time.Second,
	InboundChanSize:  64,
}

// WebsocketOpener opens wallet popups backed by a WebSocket link to the
// wallet UI host. The window itself is created by the wallet host when the
// link comes up; from the bridge's perspective the link is the window.
type WebsocketOpener struct {
	cfg WebsocketOpenerConfig
}

var _ Opener = (*WebsocketOpener)(nil)

// NewWebsocketOpener creates a new WebSocket opener with the given configuration.
func NewWebsocketOpener(cfg WebsocketOpenerConfig) *WebsocketOpener {
	return &WebsocketOpener{cfg: cfg}
}

// Open dials the wallet URL and returns the live popup handle.
// A refused or timed-out handshake is reported as ErrPopupBlocked, which is
// the fatal open-failure surfaced to the caller.
func (o *WebsocketOpener) Open(ctx context.Context, walletURL string) (Popup, error) {
	origin, err := OriginOf(walletURL)
	if err != nil {
		return nil, err
	}
	dialURL, err := wsURL(walletURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  o.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPopupBlocked, err)
	}

	childCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &websocketPopup{
		origin:   origin,
		conn:     conn,
		ctx:      childCtx,
		cancel:   cancel,
		inbound:  make(chan wire.Message, o.cfg.InboundChanSize),
		readDone: make(chan struct{}),
		lg:       log.FromContext(ctx).WithName("ws-popup"),
	}

	go p.readMessages()
	go p.closeOnContextDone()

	return p, nil
}

// websocketPopup is the Popup implementation over one WebSocket connection.
type websocketPopup struct {
	origin  string
	conn    *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	inbound  chan wire.Message
	readDone chan struct{}
	lg       log.Logger

	writeMu sync.Mutex // serializes WebSocket write operations
}

var _ Popup = (*websocketPopup)(nil)

// Origin returns the wallet host's origin.
func (p *websocketPopup) Origin() string {
	return p.origin
}

// Closed reports whether the link has been torn down.
func (p *websocketPopup) Closed() bool {
	return p.ctx.Err() != nil
}

// Focus is a no-op: the wallet host owns the window surface.
func (p *websocketPopup) Focus() {}

// Post delivers a message to the popup. The message's origin field is
// stamped by the caller; the transport does not rewrite it.
func (p *websocketPopup) Post(msg wire.Message) error {
	if p.Closed() {
		return ErrPopupClosed
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("error marshaling message: %w", err)
	}

	p.writeMu.Lock()
	err = p.conn.WriteMessage(websocket.TextMessage, raw)
	p.writeMu.Unlock()

	if err != nil {
		p.cancel()
		return ErrPopupClosed
	}
	return nil
}

// Messages returns the inbound message channel.
func (p *websocketPopup) Messages() <-chan wire.Message {
	return p.inbound
}

// Close tears the link down. Safe to call more than once.
func (p *websocketPopup) Close() error {
	p.cancel()
	return nil
}

// readMessages continuously reads frames from the WebSocket connection and
// forwards decoded messages to the inbound channel. Malformed frames are
// logged and skipped; read errors end the popup's life.
func (p *websocketPopup) readMessages() {
	defer close(p.readDone)
	defer p.cancel()

	for {
		_, raw, err := p.conn.ReadMessage()
		if p.ctx.Err() != nil {
			return
		} else if err != nil {
			p.lg.Debug("popup read loop ending", "error", err)
			return
		}

		var msg wire.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			p.lg.Warn("malformed popup message", "message", string(raw), "error", err)
			continue
		}

		select {
		case p.inbound <- msg:
		case <-p.ctx.Done():
			return
		default:
			p.lg.Warn("inbound channel full, dropping message", "event", msg.Event)
		}
	}
}

// closeOnContextDone closes the connection and the inbound channel once the
// popup's context is cancelled, whichever side initiated the teardown.
// The inbound channel is closed only after the read loop has exited so the
// loop never sends on a closed channel.
func (p *websocketPopup) closeOnContextDone() {
	<-p.ctx.Done()

	if err := p.conn.Close(); err != nil {
		p.lg.Debug("error closing popup connection", "error", err)
	}
	<-p.readDone
	close(p.inbound)
}
