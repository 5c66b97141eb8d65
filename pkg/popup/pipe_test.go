package popup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemini-wallet/bridge/pkg/wire"
)

const testOrigin = "https://wallet.example.com"

func TestPipeOpener(t *testing.T) {
	t.Run("opens popups with the configured origin", func(t *testing.T) {
		opener := NewPipeOpener(testOrigin)

		p, err := opener.Open(context.Background(), "https://wallet.example.com/popup")
		require.NoError(t, err)
		assert.Equal(t, testOrigin, p.Origin())
		assert.Equal(t, 1, opener.OpenCount())
		assert.NotNil(t, opener.Remote())
	})

	t.Run("simulates a blocked popup", func(t *testing.T) {
		opener := NewPipeOpener(testOrigin)
		opener.FailNextOpen(true)

		_, err := opener.Open(context.Background(), "https://wallet.example.com/popup")
		require.ErrorIs(t, err, ErrPopupBlocked)
		assert.Equal(t, 0, opener.OpenCount())

		opener.FailNextOpen(false)
		_, err = opener.Open(context.Background(), "https://wallet.example.com/popup")
		require.NoError(t, err)
	})
}

func TestPipePopup(t *testing.T) {
	t.Run("post reaches the remote end", func(t *testing.T) {
		p, remote := NewPipe(testOrigin)

		msg, err := wire.NewRequest(wire.EventConnect, 1, "https://app.example.com", nil)
		require.NoError(t, err)
		require.NoError(t, p.Post(msg))

		received := <-remote.Received()
		assert.Equal(t, msg, received)
	})

	t.Run("emit reaches the popup inbound stream", func(t *testing.T) {
		p, remote := NewPipe(testOrigin)

		remote.Emit(wire.Message{Event: wire.EventPopupLoaded, Origin: testOrigin})
		got := <-p.Messages()
		assert.Equal(t, wire.EventPopupLoaded, got.Event)
	})

	t.Run("emit from overrides the origin", func(t *testing.T) {
		p, remote := NewPipe(testOrigin)

		remote.EmitFrom("https://evil.example.com", wire.Message{Event: wire.EventPopupLoaded, Origin: testOrigin})
		got := <-p.Messages()
		assert.Equal(t, "https://evil.example.com", got.Origin)
	})

	t.Run("close ends the message channel", func(t *testing.T) {
		p, _ := NewPipe(testOrigin)

		require.False(t, p.Closed())
		require.NoError(t, p.Close())
		require.True(t, p.Closed())

		_, open := <-p.Messages()
		assert.False(t, open)

		// Closing again is a no-op.
		require.NoError(t, p.Close())
	})

	t.Run("post after close fails", func(t *testing.T) {
		p, remote := NewPipe(testOrigin)
		remote.Close()

		err := p.Post(wire.Message{Event: wire.EventConnect})
		require.ErrorIs(t, err, ErrPopupClosed)
	})

	t.Run("emit after close is a silent no-op", func(t *testing.T) {
		p, remote := NewPipe(testOrigin)
		require.NoError(t, p.Close())

		remote.Emit(wire.Message{Event: wire.EventPopupLoaded})
	})

	t.Run("focus is counted", func(t *testing.T) {
		p, _ := NewPipe(testOrigin)
		p.Focus()
		p.Focus()
		assert.Equal(t, 2, p.FocusCount())
	})
}

func TestOriginOf(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "https", url: "https://wallet.example.com/popup?x=1", want: "https://wallet.example.com"},
		{name: "http with port", url: "http://localhost:8080/popup", want: "http://localhost:8080"},
		{name: "wss normalized", url: "wss://wallet.example.com/ws", want: "https://wallet.example.com"},
		{name: "ws normalized", url: "ws://127.0.0.1:9000/ws", want: "http://127.0.0.1:9000"},
		{name: "no host", url: "/popup", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := OriginOf(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWsURL(t *testing.T) {
	t.Run("converts scheme and attaches geometry", func(t *testing.T) {
		got, err := wsURL("https://wallet.example.com/popup")
		require.NoError(t, err)
		assert.Equal(t, "wss://wallet.example.com/popup?h=700&w=420", got)
	})

	t.Run("keeps websocket schemes", func(t *testing.T) {
		got, err := wsURL("ws://localhost:9000/ws")
		require.NoError(t, err)
		assert.Contains(t, got, "ws://localhost:9000/ws")
	})

	t.Run("rejects unknown schemes", func(t *testing.T) {
		_, err := wsURL("ftp://wallet.example.com")
		require.Error(t, err)
	})
}
