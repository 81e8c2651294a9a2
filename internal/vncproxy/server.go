// Package vncproxy exposes a VM's VNC display, carried over a Freebox
// WebSocket channel, on a local TCP listener.
package vncproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DisplayPath returns the display channel path for a VM.
func DisplayPath(vmID int) string {
	return fmt.Sprintf("/vm/%d/vnc", vmID)
}

// ChannelDialer opens WebSocket channels on the control API.
type ChannelDialer interface {
	DialWS(ctx context.Context, path string, subprotocols []string) (*websocket.Conn, string, error)
}

// Server accepts local TCP connections and bridges each one to its own
// display channel. Connections are fully independent; no connection limit is
// enforced.
type Server struct {
	vmID int
	dial ChannelDialer
	log  zerolog.Logger
}

// NewServer returns a proxy server for the given VM.
func NewServer(vmID int, dial ChannelDialer, log zerolog.Logger) *Server {
	return &Server{vmID: vmID, dial: dial, log: log}
}

// ListenAndServe serves until ctx is cancelled, then stops accepting, closes
// in-flight tunnels, and waits for their pumps to unwind.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("vnc proxy listen: %w", err)
	}
	s.log.Info().Str("addr", ln.Addr().String()).Int("vm_id", s.vmID).Msg("vnc proxy listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			return fmt.Errorf("vnc proxy accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}

	s.log.Info().Msg("vnc proxy shutting down")
	wg.Wait()
	return nil
}

// handle bridges one accepted client for its lifetime.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	log := s.log.With().
		Str("conn_id", uuid.NewString()).
		Str("peer", conn.RemoteAddr().String()).
		Logger()
	log.Info().Msg("client connected")
	defer log.Info().Msg("client disconnected")

	ws, proto, err := s.dial.DialWS(ctx, DisplayPath(s.vmID), Subprotocols)
	if err != nil {
		log.Error().Err(err).Msg("could not open display channel")
		conn.Close()
		return
	}
	if proto == "" {
		proto = ProtoBinary
	}
	log.Debug().Str("subprotocol", proto).Msg("display channel negotiated")

	t := &tunnel{ws: ws, tcp: conn, encoded: proto == ProtoBase64, log: log}
	if err := t.run(ctx); err != nil {
		log.Warn().Err(err).Msg("tunnel ended with error")
	}
}
