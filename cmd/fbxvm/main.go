// Command fbxvm manages the VM subsystem of a Freebox: lifecycle, serial
// console, VNC proxying, disk images and image downloads.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fbxtools/fbxvm/internal/auth"
	"github.com/fbxtools/fbxvm/internal/freebox"
)

const (
	appID      = "fbxvm"
	appName    = "Freebox VM manager"
	appVersion = "0.1.0"

	defaultAPIURL    = "https://mafreebox.freebox.fr/api/v8"
	defaultTokenFile = "freeboxvm_token.json"
)

var (
	flagVerbose  bool
	flagInsecure bool

	logger zerolog.Logger
	client *freebox.Client
)

var rootCmd = &cobra.Command{
	Use:           "fbxvm",
	Short:         "Freebox VM manager",
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return connect(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "V", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagInsecure, "insecure", true,
		"skip TLS verification (the Freebox local certificate cannot be chain-verified)")
}

// connect builds the API client and establishes the per-run session. Exactly
// one session per process; it is never persisted.
func connect(ctx context.Context) error {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	opts := []freebox.Option{freebox.WithLogger(logger)}
	if flagInsecure {
		opts = append(opts, freebox.WithInsecureTransport())
	}
	client = freebox.New(getEnv("FBXVM_API_URL", defaultAPIURL), opts...)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = appID
	}
	store := auth.NewStore(getEnv("FBXVM_TOKEN_FILE", defaultTokenFile))
	authenticator := auth.New(client, store, freebox.AuthorizeRequest{
		AppID:      appID,
		AppName:    appName,
		AppVersion: appVersion,
		DeviceName: hostname,
	}, logger)
	authenticator.Out = os.Stderr

	token, err := authenticator.EstablishSession(ctx)
	if err != nil {
		return fmt.Errorf("cannot open a Freebox session: %w", err)
	}
	client.SetSession(token)
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fbxvm:", err)
		os.Exit(1)
	}
}
