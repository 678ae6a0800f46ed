package hub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitzbot/fitzbot/internal/variables"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receive(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(conn, &msg))
	return msg
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	h := New(WithLogger(zerolog.Nop()))
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return h.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast([]byte(`{"hue":0.5}`))
	require.Equal(t, `{"hue":0.5}`, receive(t, a))
	require.Equal(t, `{"hue":0.5}`, receive(t, b))
}

func TestVariableQueryRepliesToSenderOnly(t *testing.T) {
	h := New(WithLogger(zerolog.Nop()))
	table := variables.New(variables.WithBroadcaster(h))
	h.SetHandler(table.HandleMessage)

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	asker := dial(t, srv)
	other := dial(t, srv)
	require.Eventually(t, func() bool { return h.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, table.Set("deaths", 4))
	require.JSONEq(t, `{"variable":{"deaths":4}}`, receive(t, asker))
	require.JSONEq(t, `{"variable":{"deaths":4}}`, receive(t, other))

	require.NoError(t, websocket.Message.Send(asker, `{"variables":["deaths","wins"]}`))
	require.JSONEq(t, `{"variable":{"deaths":4,"wins":0}}`, receive(t, asker))

	h.Broadcast([]byte("after"))
	require.Equal(t, "after", receive(t, other))
	require.Equal(t, "after", receive(t, asker))
}

func TestCloseDisconnectsObservers(t *testing.T) {
	h := New(WithLogger(zerolog.Nop()))
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Close()
	require.Zero(t, h.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	require.Error(t, websocket.Message.Receive(conn, &msg))
}
