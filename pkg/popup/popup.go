package popup

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gemini-wallet/bridge/pkg/wire"
)

// Default window geometry for the wallet popup. The opener passes these along
// so the wallet UI can size itself; they carry no protocol meaning.
const (
	DefaultWidth  = 420
	DefaultHeight = 700
)

var (
	// ErrPopupBlocked is returned when a popup window could not be opened,
	// e.g. because the environment refused to create it.
	ErrPopupBlocked = fmt.Errorf("popup window was blocked")
	// ErrPopupClosed is returned when posting to a popup that has been
	// torn down.
	ErrPopupClosed = fmt.Errorf("popup window is closed")
)

// Popup is the handle to one live wallet UI context.
//
// A Popup owns no protocol state: it only moves wire messages in and out and
// tracks whether the underlying window is still alive. Request correlation,
// origin filtering and lifecycle semantics live in the Communicator.
type Popup interface {
	// Origin returns the origin inbound messages from this popup are
	// expected to carry (scheme://host[:port]).
	Origin() string
	// Closed reports whether the window has been torn down.
	Closed() bool
	// Focus brings the window to the foreground.
	// Implementations without a window surface treat this as a no-op.
	Focus()
	// Post delivers a message to the popup. Delivery is fire-and-forget:
	// the only failure mode is a closed popup, never a lost message that
	// reports success.
	Post(msg wire.Message) error
	// Messages returns the inbound message channel. The channel is closed
	// when the popup closes, however that happens.
	Messages() <-chan wire.Message
	// Close tears the window down. Safe to call more than once.
	Close() error
}

// Opener opens popup windows at a wallet URL.
type Opener interface {
	// Open creates a new popup window. It returns ErrPopupBlocked (possibly
	// wrapped) when the window could not be created.
	Open(ctx context.Context, walletURL string) (Popup, error)
}

// OriginOf extracts the origin (scheme://host[:port]) from a wallet URL.
// WebSocket schemes are normalized to their HTTP counterparts so that the
// transport-level URL and the origin announced in messages line up.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid wallet URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("wallet URL %q has no origin", rawURL)
	}

	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}

// wsURL converts a wallet URL to its WebSocket form and attaches the window
// geometry as query parameters.
func wsURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid wallet URL %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported wallet URL scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("w", fmt.Sprint(DefaultWidth))
	q.Set("h", fmt.Sprint(DefaultHeight))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
