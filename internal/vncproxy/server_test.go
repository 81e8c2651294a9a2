package vncproxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsDialer dials the test display server for every proxied connection,
// mimicking the per-connection channel the real client opens.
type wsDialer struct {
	url string
}

func (d *wsDialer) DialWS(ctx context.Context, path string, subprotocols []string) (*websocket.Conn, string, error) {
	dialer := websocket.Dialer{Subprotocols: subprotocols}
	conn, _, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, "", err
	}
	return conn, conn.Subprotocol(), nil
}

func TestServerBridgesIndependentClients(t *testing.T) {
	// Echo display endpoint: every connection gets its own echo loop.
	upgrader := websocket.Upgrader{Subprotocols: []string{ProtoBinary}}
	srv := httptest.NewServer(httpHandler(t, upgrader))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewServer(1, &wsDialer{url: "ws" + strings.TrimPrefix(srv.URL, "http")}, zerolog.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx, addr) }()

	var conns []net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conns = append(conns, c)
		return true
	}, 2*time.Second, 20*time.Millisecond)
	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conns = append(conns, c2)

	// Both clients get their own echo, no cross-talk.
	for i, c := range conns {
		payload := []byte{byte(i), 0x42}
		_, err := c.Write(payload)
		require.NoError(t, err)
		buf := make([]byte, 2)
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, err = c.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, payload, buf)
	}

	for _, c := range conns {
		c.Close()
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}

func httpHandler(t *testing.T, upgrader websocket.Upgrader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})
}
