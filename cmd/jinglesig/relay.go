package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/1ureka/jinglesig/internal/config"
	"github.com/1ureka/jinglesig/internal/relay"
	"github.com/1ureka/jinglesig/internal/util"
)

func newRelayCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the stanza relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			srv := relay.NewServer(cfg.Password, cfg.Metrics)
			addr, err := srv.Start(cfg.Listen)
			if err != nil {
				return err
			}
			defer srv.Close()

			if cfg.StatsInterval > 0 {
				util.StartStatsReporter(ctx, cfg.StatsInterval)
			}

			fmt.Println()
			fmt.Println("╔══════════════════════════════════════════╗")
			fmt.Println("║             jinglesig relay              ║")
			fmt.Println("╠══════════════════════════════════════════╣")
			fmt.Printf("║  Addr     : %-28s ║\n", addr)
			fmt.Printf("║  Password : %-28s ║\n", srv.Password())
			if cfg.Metrics {
				fmt.Printf("║  Metrics  : %-28s ║\n", "/metrics")
			}
			fmt.Println("╚══════════════════════════════════════════╝")
			fmt.Println()

			<-ctx.Done()
			util.LogInfo("relay shutting down, %d client(s) online", len(srv.Online()))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "Address to listen on")
	cmd.Flags().BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "Serve Prometheus metrics on /metrics")

	return cmd
}
