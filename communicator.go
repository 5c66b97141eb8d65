package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gemini-wallet/bridge/pkg/log"
	"github.com/gemini-wallet/bridge/pkg/popup"
	"github.com/gemini-wallet/bridge/pkg/wire"
)

// MessagePredicate selects inbound messages for a listener. Predicates run
// against origin-validated messages only, but must still check the event tag
// and any event-specific fields they rely on.
type MessagePredicate func(wire.Message) bool

// listenerResult is the single outcome delivered to a pending listener:
// either a matched message or the cancellation error.
type listenerResult struct {
	msg wire.Message
	err error
}

// pendingListener tracks one in-flight expectation over inbound messages.
// At most one result is ever delivered; the listener is removed from the
// registry before delivery.
type pendingListener struct {
	id        uint64
	predicate MessagePredicate
	resultCh  chan listenerResult
}

// CommunicatorConfig assembles a Communicator.
type CommunicatorConfig struct {
	// WalletURL is where popup windows are opened (required).
	WalletURL string
	// AppOrigin is stamped as the origin of outgoing messages (required).
	AppOrigin string
	// AppName and AppLogoURL describe the embedding application to the
	// wallet UI.
	AppName    string
	AppLogoURL string

	// Opener creates popup windows. Defaults to a WebSocket opener.
	Opener popup.Opener
	// OnDisconnect is invoked when the popup itself signals disconnection,
	// before the pending listeners are cancelled. Optional.
	OnDisconnect func()
	// Logger defaults to a noop logger.
	Logger log.Logger
	// Metrics defaults to a privately registered set.
	Metrics *Metrics
}

// Communicator manages exactly one popup window and provides reliable,
// origin-validated, correlation-based request/response messaging with it.
//
// The instance exclusively owns its popup handle and its listener registry;
// no other component mutates them. One Communicator serves one wallet
// session.
type Communicator struct {
	walletURL  string
	appOrigin  string
	appName    string
	appLogoURL string

	opener       popup.Opener
	onDisconnect func()
	lg           log.Logger
	metrics      *Metrics

	// chainID is the session chain announced in the app-context message.
	// The wallet session keeps it current.
	chainID atomic.Uint64

	// openMu serializes the open-and-handshake sequence so concurrent
	// callers cannot race two popups into existence.
	openMu sync.Mutex

	// mu protects popup and listeners.
	mu         sync.Mutex
	popup      popup.Popup
	listeners  []*pendingListener
	nextListID uint64
}

// NewCommunicator creates a Communicator from the given configuration.
func NewCommunicator(cfg CommunicatorConfig) *Communicator {
	if cfg.Opener == nil {
		cfg.Opener = popup.NewWebsocketOpener(popup.DefaultWebsocketOpenerConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	return &Communicator{
		walletURL:    cfg.WalletURL,
		appOrigin:    cfg.AppOrigin,
		appName:      cfg.AppName,
		appLogoURL:   cfg.AppLogoURL,
		opener:       cfg.Opener,
		onDisconnect: cfg.OnDisconnect,
		lg:           cfg.Logger.WithName("communicator"),
		metrics:      cfg.Metrics,
	}
}

// SetChainID updates the chain id announced to freshly loaded popups.
func (c *Communicator) SetChainID(id uint64) {
	c.chainID.Store(id)
}

// WaitForPopupLoaded ensures a popup is open and has signaled that it
// finished loading.
//
// An existing open popup is refocused and returned immediately, with no new
// load round trip. Otherwise a new popup is opened, the standing unload and
// disconnect watchers are started, and the call suspends until the popup
// announces itself with a loaded signal. The app-context message is then
// sent back under the popup's own request id before the handle is returned.
//
// A blocked popup is fatal and surfaced to the caller as
// popup.ErrPopupBlocked.
func (c *Communicator) WaitForPopupLoaded(ctx context.Context) (popup.Popup, error) {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	existing := c.popup
	c.mu.Unlock()
	if existing != nil && !existing.Closed() {
		existing.Focus()
		c.metrics.PopupsReused.Inc()
		return existing, nil
	}

	p, err := c.opener.Open(ctx, c.walletURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.popup = p
	c.mu.Unlock()
	c.metrics.PopupsOpened.Inc()
	c.lg.Info("popup opened", "origin", p.Origin())

	// Register the load listener and the first watcher listeners before the
	// dispatch loop starts, so none of their messages can slip past.
	loadedL := c.register(func(m wire.Message) bool { return m.Event == wire.EventPopupLoaded })
	unloadedL := c.register(func(m wire.Message) bool { return m.Event == wire.EventPopupUnloaded })
	disconnectL := c.register(func(m wire.Message) bool { return m.Event == wire.EventDisconnect })

	go c.dispatch(p)
	go c.runWatcher(p, unloadedL, wire.EventPopupUnloaded, func() {
		c.lg.Info("popup unloaded, cancelling pending requests")
		c.onRequestCancelled()
	})
	go c.runWatcher(p, disconnectL, wire.EventDisconnect, func() {
		c.lg.Info("popup signaled disconnect")
		if c.onDisconnect != nil {
			c.onDisconnect()
		}
		c.onRequestCancelled()
	})

	loaded, err := c.awaitListener(ctx, loadedL)
	if err != nil {
		return nil, err
	}

	appCtx, err := wire.NewResponse(loaded, c.appOrigin, wire.AppContextData{
		AppName:    c.appName,
		AppLogoURL: c.appLogoURL,
		Origin:     c.appOrigin,
		SDKVersion: Version,
		ChainID:    c.chainID.Load(),
	})
	if err != nil {
		return nil, err
	}
	appCtx.ChainID = c.chainID.Load()

	c.mu.Lock()
	cur := c.popup
	c.mu.Unlock()
	if cur == nil {
		// Cancelled concurrently between the load signal and now.
		return nil, ErrPopupHandleLost
	}
	if err := cur.Post(appCtx); err != nil {
		return nil, err
	}
	c.metrics.MessagesSent.Inc()
	c.lg.Debug("app context sent", "requestId", loaded.RequestID)

	return cur, nil
}

// PostMessage delivers a message to the popup, opening it first if needed.
// No response is awaited.
func (c *Communicator) PostMessage(ctx context.Context, msg wire.Message) error {
	p, err := c.WaitForPopupLoaded(ctx)
	if err != nil {
		return err
	}

	if msg.Origin == "" {
		msg.Origin = c.appOrigin
	}
	if err := p.Post(msg); err != nil {
		return err
	}
	c.metrics.MessagesSent.Inc()
	return nil
}

// PostRequestAndWaitForResponse sends a request and suspends until the
// correlated response arrives. The response listener is registered before
// the request is posted, so a response can never race past its listener.
func (c *Communicator) PostRequestAndWaitForResponse(ctx context.Context, req wire.Message) (wire.Message, error) {
	if req.RequestID == "" {
		return wire.Message{}, fmt.Errorf("request %s carries no request id", req.Event)
	}

	p, err := c.WaitForPopupLoaded(ctx)
	if err != nil {
		return wire.Message{}, err
	}

	if req.Origin == "" {
		req.Origin = c.appOrigin
	}

	l := c.register(func(m wire.Message) bool { return m.IsResponseTo(req) })
	if err := p.Post(req); err != nil {
		c.deregister(l.id)
		return wire.Message{}, err
	}
	c.metrics.MessagesSent.Inc()
	c.metrics.WalletRequests.WithLabelValues(req.Event.String()).Inc()

	return c.awaitListener(ctx, l)
}

// OnMessage suspends until an inbound message satisfying the predicate
// arrives. Messages from any origin other than the popup's are dropped
// before the predicate runs. The listener is removed on first match, on
// context cancellation, and on popup teardown (where it fails with
// ErrUserRejected like every other pending listener).
func (c *Communicator) OnMessage(ctx context.Context, predicate MessagePredicate) (wire.Message, error) {
	l := c.register(predicate)
	return c.awaitListener(ctx, l)
}

// Disconnect tears down the popup and rejects all in-flight work.
// It is safe to call at any time, including when no popup is open.
func (c *Communicator) Disconnect() {
	c.lg.Info("disconnecting")
	c.onRequestCancelled()
}

// register adds a pending listener to the registry.
func (c *Communicator) register(predicate MessagePredicate) *pendingListener {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListID++
	l := &pendingListener{
		id:        c.nextListID,
		predicate: predicate,
		resultCh:  make(chan listenerResult, 1),
	}
	c.listeners = append(c.listeners, l)
	c.metrics.PendingListeners.Set(float64(len(c.listeners)))
	return l
}

// deregister removes a listener by id. Removing an already-resolved listener
// is a no-op.
func (c *Communicator) deregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			break
		}
	}
	c.metrics.PendingListeners.Set(float64(len(c.listeners)))
}

// awaitListener blocks until the listener resolves or the caller's context
// ends. Context cancellation affects only this listener.
func (c *Communicator) awaitListener(ctx context.Context, l *pendingListener) (wire.Message, error) {
	select {
	case res := <-l.resultCh:
		return res.msg, res.err
	case <-ctx.Done():
		c.deregister(l.id)
		return wire.Message{}, ctx.Err()
	}
}

// dispatch routes every inbound message from the popup to the first
// registered listener whose predicate matches. Messages from foreign origins
// are dropped with no observable effect. When the inbound channel closes the
// popup is gone, which cancels all remaining listeners.
func (c *Communicator) dispatch(p popup.Popup) {
	expectedOrigin := p.Origin()

	for msg := range p.Messages() {
		c.metrics.MessagesReceived.Inc()

		if msg.Origin != expectedOrigin {
			c.metrics.MessagesDropped.Inc()
			continue
		}

		var matched *pendingListener
		c.mu.Lock()
		for i, l := range c.listeners {
			if l.predicate(msg) {
				matched = l
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				break
			}
		}
		c.metrics.PendingListeners.Set(float64(len(c.listeners)))
		c.mu.Unlock()

		if matched == nil {
			c.lg.Debug("unhandled popup message", "event", msg.Event, "requestId", msg.RequestID)
			continue
		}
		matched.resultCh <- listenerResult{msg: msg}
	}

	// The window is gone. If this popup is still the current one, abandon
	// all in-flight work.
	c.mu.Lock()
	current := c.popup == p
	c.mu.Unlock()
	if current {
		c.lg.Info("popup closed")
		c.onRequestCancelled()
	}
}

// runWatcher is one of the two standing lifecycle watchers. It consumes its
// pre-registered listener, invokes the handler, and re-arms itself until the
// popup is gone. A cancellation racing the watcher resolves its listener
// with an error, which the watcher swallows by exiting.
func (c *Communicator) runWatcher(p popup.Popup, l *pendingListener, event wire.Event, handle func()) {
	for {
		res := <-l.resultCh
		if res.err != nil {
			return
		}
		handle()

		if p.Closed() {
			return
		}
		l = c.register(func(m wire.Message) bool { return m.Event == event })
	}
}

// onRequestCancelled is the single place where in-flight work is abandoned:
// it closes the popup if one is open, clears the handle, rejects every
// pending listener with the uniform user-rejection error, and empties the
// registry. Safe to invoke repeatedly.
func (c *Communicator) onRequestCancelled() {
	c.mu.Lock()
	p := c.popup
	c.popup = nil
	pending := c.listeners
	c.listeners = nil
	c.metrics.PendingListeners.Set(0)
	c.mu.Unlock()

	if p != nil && !p.Closed() {
		if err := p.Close(); err != nil {
			c.lg.Warn("error closing popup", "error", err)
		}
		c.metrics.PopupsClosed.Inc()
	}

	for _, l := range pending {
		l.resultCh <- listenerResult{err: ErrUserRejected}
	}
	if len(pending) > 0 {
		c.metrics.RejectedRequests.Add(float64(len(pending)))
		c.lg.Info("rejected pending listeners", "count", len(pending))
	}
}
