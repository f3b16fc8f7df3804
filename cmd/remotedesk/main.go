// Command remotedesk connects to a remote desktop host, negotiates the
// media and input channels, and forwards local input to it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"remotedesk/internal/control"
	"remotedesk/internal/identity"
	"remotedesk/internal/metrics"
	"remotedesk/internal/session"
	"remotedesk/internal/signaling"
	"remotedesk/internal/token"
)

type cli struct {
	Connect connectCmd `cmd:"" default:"withargs" help:"Connect to a remote device."`

	ServerURL   string `name:"server" default:"wss://signal.remotedesk.dev/ws" help:"Signaling server WebSocket URL."`
	TokenURL    string `name:"token-url" help:"Token service endpoint; when set, join credentials are fetched from it."`
	StateDir    string `name:"state-dir" help:"Directory for persistent client state." default:"~/.remotedesk" type:"path"`
	MetricsAddr string `name:"metrics-addr" help:"Listen address for Prometheus metrics; disabled when empty."`
	Verbose     bool   `short:"v" help:"Enable debug logging."`
}

type connectCmd struct {
	Device   string `arg:"" help:"Device identifier of the host to connect to."`
	Password string `short:"p" help:"Room password." env:"REMOTEDESK_PASSWORD"`
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("remotedesk"),
		kong.Description("Remote desktop client."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&flags))
}

func (c *connectCmd) Run(flags *cli) error {
	level := slog.LevelInfo
	if flags.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := identity.NewStore(flags.StateDir).Load()
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	logger.Info("client identity", "id", id.ID)

	m := metrics.New()
	if flags.MetricsAddr != "" {
		go serveMetrics(logger, flags.MetricsAddr, m)
	}

	sig := signaling.NewClient(flags.ServerURL, logger.With("component", "signaling"))
	go sig.Run(ctx)
	defer sig.Close()

	password := c.Password
	if flags.TokenURL != "" {
		tokenCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		t, err := token.NewClient(flags.TokenURL).Token(tokenCtx, c.Device, id.ID)
		cancel()
		if err != nil {
			return fmt.Errorf("fetching join token: %w", err)
		}
		password = t
	}

	sess := session.New(session.Config{
		Signaler: sig,
		Identity: id,
		Logger:   logger.With("component", "session"),
		Metrics:  m,
	})
	if err := sess.InitConnections(); err != nil {
		return err
	}

	// Single delivery goroutine keeps candidate ordering intact.
	go func() {
		for msg := range sig.Messages() {
			sess.HandleSignal(msg)
		}
	}()

	keyboard := control.NewKeyboard(
		newStdinKeySource(logger),
		sess.Channel,
		logger.With("component", "keyboard"),
	)
	keyboard.Toggle()
	defer keyboard.Cleanup()

	if err := sess.ConnectToDevice(ctx, c.Device, password); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.Device, err)
	}
	logger.Info("session started", "device", c.Device, "status", sess.Status())

	<-ctx.Done()
	logger.Info("shutting down")
	sess.Disconnect()
	return nil
}

func serveMetrics(logger *slog.Logger, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}
