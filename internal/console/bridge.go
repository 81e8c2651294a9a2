// Package console attaches a raw local terminal to a VM serial console
// carried over a WebSocket channel.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConsolePath returns the console channel path for a VM.
func ConsolePath(vmID int) string {
	return fmt.Sprintf("/vm/%d/console", vmID)
}

// Subprotocols offered on the console channel. The console is byte-oriented.
var Subprotocols = []string{"binary"}

// DeviceControl issues the one-shot VM power operations reachable from the
// console command prefix.
type DeviceControl interface {
	PowerButton(ctx context.Context, id int) error
	Stop(ctx context.Context, id int) error
	Restart(ctx context.Context, id int) error
}

// Bridge pumps bytes between a local terminal and one console channel, with
// the Ctrl-B command state machine on the local side.
type Bridge struct {
	vmID    int
	control DeviceControl
	in      io.Reader
	out     io.Writer
	log     zerolog.Logger
}

// New returns a bridge for the given VM, reading keystrokes from in and
// writing console output to out.
func New(vmID int, control DeviceControl, in io.Reader, out io.Writer, log zerolog.Logger) *Bridge {
	return &Bridge{vmID: vmID, control: control, in: in, out: out, log: log}
}

// errDetached ends the local pump on Ctrl-B D. It never escapes Run.
var errDetached = errors.New("console detached")

// Run pumps both directions until the remote channel closes, the local input
// reaches EOF, or the operator detaches. All three are clean exits. The
// channel is closed on every path; the local pump may stay blocked on a
// terminal read until the process exits, which is fine for a one-command
// process.
func (b *Bridge) Run(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	remoteDone := make(chan error, 1)
	localDone := make(chan error, 1)
	go func() { remoteDone <- b.remoteToLocal(conn) }()
	go func() { localDone <- b.localToRemote(ctx, conn) }()

	select {
	case err := <-remoteDone:
		return err
	case err := <-localDone:
		if errors.Is(err, errDetached) || err == nil {
			// Give the Freebox a clean close before tearing down.
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			<-remoteDone
			return nil
		}
		conn.Close()
		<-remoteDone
		return err
	case <-ctx.Done():
		conn.Close()
		<-remoteDone
		return nil
	}
}

// remoteToLocal writes every inbound frame to the local output as it
// arrives. Channel closure is the normal termination path, not an error.
func (b *Bridge) remoteToLocal(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("console channel: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		if _, err := b.out.Write(data); err != nil {
			return fmt.Errorf("console output: %w", err)
		}
	}
}

// localToRemote reads the terminal byte by byte through the command state
// machine.
func (b *Bridge) localToRemote(ctx context.Context, conn *websocket.Conn) error {
	var keys keymap
	buf := make([]byte, 1)
	for {
		n, err := b.in.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("console input: %w", err)
		}
		if n == 0 {
			continue
		}

		act := keys.feed(buf[0])
		if len(act.forward) > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, act.forward); err != nil {
				if isClosed(err) {
					return nil
				}
				return fmt.Errorf("console channel: %w", err)
			}
		}
		switch act.command {
		case CommandNone:
		case CommandDetach:
			return errDetached
		case CommandHelp:
			fmt.Fprint(b.out, helpText)
		case CommandPowerButton:
			b.controlCall(ctx, "powerbutton", b.control.PowerButton)
		case CommandStop:
			b.controlCall(ctx, "stop", b.control.Stop)
		case CommandRestart:
			b.controlCall(ctx, "restart", b.control.Restart)
		}
	}
}

// controlCall runs a one-shot power operation. A failure ends neither the
// session nor the pump; the operator just sees it logged.
func (b *Bridge) controlCall(ctx context.Context, name string, call func(context.Context, int) error) {
	if err := call(ctx, b.vmID); err != nil {
		b.log.Warn().Err(err).Str("op", name).Int("vm_id", b.vmID).Msg("vm control call failed")
	}
}

// isClosed reports whether err is any flavor of connection teardown.
func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
