package popup

import (
	"context"
	"sync"

	"github.com/gemini-wallet/bridge/pkg/wire"
)

// PipeOpener opens in-process popups connected to a PipeRemote. It backs the
// bridge's test suites and lets hosts embed a wallet implementation in the
// same process.
type PipeOpener struct {
	origin string

	mu     sync.Mutex
	opened []*PipeRemote
	fail   bool
}

var _ Opener = (*PipeOpener)(nil)

// NewPipeOpener creates an opener whose popups report the given origin.
func NewPipeOpener(origin string) *PipeOpener {
	return &PipeOpener{origin: origin}
}

// FailNextOpen makes subsequent Open calls fail with ErrPopupBlocked,
// simulating a blocked popup window.
func (o *PipeOpener) FailNextOpen(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = fail
}

// Open creates a new pipe popup. The remote end is retrievable via Remote.
func (o *PipeOpener) Open(_ context.Context, _ string) (Popup, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fail {
		return nil, ErrPopupBlocked
	}

	p, remote := NewPipe(o.origin)
	o.opened = append(o.opened, remote)
	return p, nil
}

// Remote returns the remote end of the most recently opened popup,
// or nil if none was opened yet.
func (o *PipeOpener) Remote() *PipeRemote {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

// OpenCount returns how many popups this opener has created.
func (o *PipeOpener) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

// NewPipe creates a connected popup/remote pair. The popup side is handed to
// the Communicator; the remote side plays the wallet.
func NewPipe(origin string) (*PipePopup, *PipeRemote) {
	p := &PipePopup{
		origin:  origin,
		inbound: make(chan wire.Message, 64),
		done:    make(chan struct{}),
	}
	r := &PipeRemote{
		popup:    p,
		received: make(chan wire.Message, 64),
	}
	p.remote = r
	return p, r
}

// PipePopup is an in-process Popup implementation.
type PipePopup struct {
	origin string
	remote *PipeRemote

	mu      sync.Mutex
	inbound chan wire.Message
	done    chan struct{}
	closed  bool
	focused int
}

var _ Popup = (*PipePopup)(nil)

// Origin returns the origin the pipe was created with.
func (p *PipePopup) Origin() string { return p.origin }

// Closed reports whether Close has been called on either end.
func (p *PipePopup) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Focus records the focus request; tests assert on FocusCount.
func (p *PipePopup) Focus() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focused++
}

// FocusCount returns how many times Focus has been called.
func (p *PipePopup) FocusCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

// Post hands the message to the remote end.
func (p *PipePopup) Post(msg wire.Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPopupClosed
	}
	p.mu.Unlock()

	select {
	case p.remote.received <- msg:
		return nil
	case <-p.done:
		return ErrPopupClosed
	}
}

// Messages returns the inbound message channel.
func (p *PipePopup) Messages() <-chan wire.Message {
	return p.inbound
}

// Close tears the pipe down and closes the inbound channel.
func (p *PipePopup) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	close(p.inbound)
	return nil
}

// PipeRemote is the wallet-side end of a pipe popup.
type PipeRemote struct {
	popup    *PipePopup
	received chan wire.Message
}

// Received returns the channel of messages the SDK posted to the popup.
func (r *PipeRemote) Received() <-chan wire.Message {
	return r.received
}

// Emit injects a message into the popup's inbound stream, as if the wallet
// UI had posted it. The message's origin field is delivered untouched, which
// lets tests exercise the Communicator's origin filtering.
// Emitting on a closed pipe is a silent no-op, matching a window that sends
// its last messages while being torn down.
func (r *PipeRemote) Emit(msg wire.Message) {
	// The mutex also orders Emit against Close, so the send below can never
	// hit a just-closed channel.
	r.popup.mu.Lock()
	defer r.popup.mu.Unlock()
	if r.popup.closed {
		return
	}

	select {
	case r.popup.inbound <- msg:
	default:
		// Buffer full; drop, as a real window would under backpressure.
	}
}

// EmitFrom is Emit with the message origin overridden.
func (r *PipeRemote) EmitFrom(origin string, msg wire.Message) {
	msg.Origin = origin
	r.Emit(msg)
}

// Close tears the pipe down from the wallet side.
func (r *PipeRemote) Close() {
	_ = r.popup.Close()
}
