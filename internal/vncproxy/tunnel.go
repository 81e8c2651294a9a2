package vncproxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Subprotocol names negotiated with the Freebox display endpoint. Binary is
// preferred; some QEMU endpoints only speak the base64 text encoding.
const (
	ProtoBinary = "binary"
	ProtoBase64 = "base64"
)

// Subprotocols is the offered preference list, most preferred first.
var Subprotocols = []string{ProtoBinary, ProtoBase64}

const tcpReadBuffer = 64 * 1024

// tunnel bridges one TCP client to one display channel. encoded is true when
// the server selected the base64 fallback: inbound text frames are decoded
// before hitting the socket and outbound chunks encoded before hitting the
// channel.
type tunnel struct {
	ws      *websocket.Conn
	tcp     net.Conn
	encoded bool
	log     zerolog.Logger
}

// run pumps both directions until either side closes. Closing one side
// proactively closes the other so a half-open connection never lingers, and
// context cancellation closes both so neither pump blocks past an interrupt.
func (t *tunnel) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-gctx.Done():
			t.ws.Close()
			t.tcp.Close()
		case <-done:
		}
	}()

	g.Go(func() error {
		defer t.tcp.Close()
		return t.channelToSocket()
	})
	g.Go(func() error {
		defer t.ws.Close()
		return t.socketToChannel()
	})
	return g.Wait()
}

// channelToSocket copies remote frames to the TCP client.
func (t *tunnel) channelToSocket() error {
	for {
		mt, data, err := t.ws.ReadMessage()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("display channel: %w", err)
		}
		out, err := decodeFrame(mt, data, t.encoded)
		if err != nil {
			// One bad frame is not worth the session; skip it.
			t.log.Warn().Err(err).Msg("dropping undecodable display frame")
			continue
		}
		if len(out) == 0 {
			continue
		}
		if _, err := t.tcp.Write(out); err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("client socket: %w", err)
		}
	}
}

// socketToChannel copies TCP chunks to the remote channel.
func (t *tunnel) socketToChannel() error {
	buf := make([]byte, tcpReadBuffer)
	for {
		n, err := t.tcp.Read(buf)
		if n > 0 {
			mt, frame := encodeFrame(buf[:n], t.encoded)
			if werr := t.ws.WriteMessage(mt, frame); werr != nil {
				if isClosed(werr) {
					return nil
				}
				return fmt.Errorf("display channel: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || isClosed(err) {
				return nil
			}
			return fmt.Errorf("client socket: %w", err)
		}
	}
}

// decodeFrame turns one inbound channel frame into socket bytes. In encoded
// mode text frames carry base64; in binary mode bytes pass through untouched.
func decodeFrame(messageType int, data []byte, encoded bool) ([]byte, error) {
	if encoded && messageType == websocket.TextMessage {
		out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(out, data)
		if err != nil {
			return nil, fmt.Errorf("decode base64 frame: %w", err)
		}
		return out[:n], nil
	}
	return data, nil
}

// encodeFrame turns socket bytes into one outbound channel frame.
func encodeFrame(data []byte, encoded bool) (messageType int, frame []byte) {
	if encoded {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
		base64.StdEncoding.Encode(out, data)
		return websocket.TextMessage, out
	}
	return websocket.BinaryMessage, data
}

func isClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
