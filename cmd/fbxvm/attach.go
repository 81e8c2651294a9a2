package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fbxtools/fbxvm/internal/console"
	"github.com/fbxtools/fbxvm/internal/freebox"
	"github.com/fbxtools/fbxvm/internal/vncproxy"
)

var (
	flagConsole  bool
	flagVNCProxy bool
	flagListen   string
	flagPort     int
)

func addAttachFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&flagConsole, "console", "c", false, "also attach the VM console")
	cmd.Flags().BoolVarP(&flagVNCProxy, "vnc-proxy", "v", false, "also expose the VM VNC on a local TCP port")
	addListenFlags(cmd)
}

func addListenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagListen, "listen", "L", "127.0.0.1", "bind address for the VNC proxy")
	cmd.Flags().IntVarP(&flagPort, "port", "p", 5901, "local TCP port for the VNC proxy")
}

// attach runs the console and/or VNC proxy as requested by the shared flags.
// With both, the proxy serves until the console detaches.
func attach(ctx context.Context, v freebox.VM) error {
	switch {
	case flagConsole && flagVNCProxy:
		return runConsoleAndProxy(ctx, v)
	case flagConsole:
		return runConsole(ctx, v)
	case flagVNCProxy:
		return runProxy(ctx, v)
	default:
		return nil
	}
}

// runConsole attaches the interactive console with the terminal in raw mode.
// The previous terminal mode is restored on every exit path.
func runConsole(ctx context.Context, v freebox.VM) error {
	fmt.Fprintf(os.Stderr, "Connected to console of '%s' (VM #%d), Ctrl-B D to detach...\n", v.Name, v.ID)

	conn, _, err := client.DialWS(ctx, console.ConsolePath(v.ID), console.Subprotocols)
	if err != nil {
		return err
	}

	bridge := console.New(v.ID, client, os.Stdin, os.Stdout, logger)
	if console.IsTerminal(int(os.Stdin.Fd())) {
		return console.WithRawTerminal(int(os.Stdin.Fd()), func() error {
			return bridge.Run(ctx, conn)
		})
	}
	return bridge.Run(ctx, conn)
}

// runProxy serves the VNC proxy until interrupted.
func runProxy(ctx context.Context, v freebox.VM) error {
	addr := net.JoinHostPort(flagListen, strconv.Itoa(flagPort))
	fmt.Fprintf(os.Stderr, "VNC proxy for '%s' (VM #%d) on %s\n", v.Name, v.ID, addr)
	server := vncproxy.NewServer(v.ID, client, logger)
	return server.ListenAndServe(ctx, addr)
}

// runConsoleAndProxy runs both; detaching the console stops the proxy.
func runConsoleAndProxy(ctx context.Context, v freebox.VM) error {
	proxyCtx, stopProxy := context.WithCancel(ctx)
	defer stopProxy()

	proxyDone := make(chan error, 1)
	go func() { proxyDone <- runProxy(proxyCtx, v) }()

	err := runConsole(ctx, v)
	stopProxy()
	if perr := <-proxyDone; err == nil && perr != nil && ctx.Err() == nil {
		err = perr
	}
	return err
}
