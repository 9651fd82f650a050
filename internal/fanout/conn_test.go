package fanout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajith4Tech/rforum/internal/domain"
)

// newSocketPair returns the server and client ends of one WebSocket.
func newSocketPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(waitFor):
		t.Fatal("server never accepted the socket")
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, client
}

func TestClientConn_EvictClosesWithPolicyViolation(t *testing.T) {
	server, client := newSocketPair(t)
	c := newClientConn("c1", server, clockwork.NewRealClock(), DefaultOptions())

	ran := make(chan error, 1)
	go func() { ran <- c.run(context.Background()) }()

	c.Evict(domain.ErrSlowConsumer)
	assert.ErrorIs(t, c.Send([]byte(`{}`)), domain.ErrConnClosed)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "slow consumer", closeErr.Text)

	select {
	case err := <-ran:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("writer did not exit")
	}
}

func TestClientConn_EvictAfterCloseIsNoop(t *testing.T) {
	server, client := newSocketPair(t)
	c := newClientConn("c1", server, clockwork.NewRealClock(), DefaultOptions())
	go func() { _ = c.run(context.Background()) }()

	require.NoError(t, c.Close())
	c.Evict(domain.ErrSlowConsumer)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestEvictReason(t *testing.T) {
	assert.Equal(t, "slow consumer", evictReason(domain.ErrSlowConsumer))
	assert.Equal(t, "send failed", evictReason(errors.New("broken pipe")))
}
