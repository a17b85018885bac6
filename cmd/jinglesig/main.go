// Command jinglesig is the CLI entry point.
//
// Negotiates peer-to-peer media sessions and file transfers between clients
// of a small stanza relay. The relay only carries signaling; the negotiated
// ICE candidates are handed to an external media stack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/jinglesig/internal/app"
	"github.com/1ureka/jinglesig/internal/config"
	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/util"
)

var version = "dev"

func newRootCommand(cfg *config.Config) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:          "jinglesig",
		Short:        fmt.Sprintf("jinglesig: Jingle session negotiation over a stanza relay v%s", version),
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			switch {
			case quiet:
				util.Quiet()
			case cfg.Debug:
				util.EnableDebug()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "Relay address (host:port or ws[s]:// URL)")
	flags.StringVar(&cfg.JID, "jid", cfg.JID, "Local JID, e.g. alice@example")
	flags.StringVar(&cfg.Password, "password", cfg.Password, "Relay password")
	flags.BoolVarP(&cfg.Debug, "debug", "d", cfg.Debug, "Enable debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	flags.DurationVar(&cfg.StatsInterval, "stats", cfg.StatsInterval, "Log traffic statistics at this interval (0 disables)")

	cmd.AddCommand(
		newRelayCommand(cfg),
		newListenCommand(cfg),
		newCallCommand(cfg),
		newSendFileCommand(cfg),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			pterm.Info.Println(fmt.Sprintf("jinglesig v%s", version))
		},
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// connect builds a client from cfg and connects it.
func connect(ctx context.Context, cfg *config.Config) (*app.Client, error) {
	if cfg.JID == "" {
		return nil, fmt.Errorf("missing --jid")
	}
	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	c := app.New(app.WebSocketDialer(cfg.TransportOptions()), cfg.ClientOptions())
	if err := c.Connect(ctx, cfg.Host, cfg.JID, cfg.Password); err != nil {
		return nil, err
	}
	return c, nil
}

// shutdown stops the client, bounded by the configured stop timeout.
func shutdown(c *app.Client, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		util.LogWarning("stop: %v", err)
	}
}

// pump dispatches client events until ctx is cancelled, done is closed or
// the connection drops.
func pump(ctx context.Context, c *app.Client, done <-chan struct{}) error {
	lost := make(chan struct{})
	c.On(events.ConnectionStateChanged, func(e events.Event) {
		if e.State == events.Disconnected {
			select {
			case <-lost:
			default:
				close(lost)
			}
		}
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		c.Update()
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			c.Update()
			return nil
		case <-lost:
			return fmt.Errorf("connection lost")
		case <-ticker.C:
		}
	}
}

func logEvent(e events.Event) {
	util.LogDebug("event %s peer=%s sid=%s", e.Kind, e.Peer, e.SID)
}
