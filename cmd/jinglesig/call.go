package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/jinglesig/internal/config"
	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/util"
	"github.com/1ureka/jinglesig/internal/webrtc"
)

func newCallCommand(cfg *config.Config) *cobra.Command {
	var duration time.Duration
	var gather bool

	cmd := &cobra.Command{
		Use:     "call <peer>",
		Short:   "Offer an audio session to a peer and print the negotiated SDP",
		Example: "jinglesig call bob@example --jid alice@example --password 123456",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), cfg, args[0], duration, gather)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Hang up after this long once accepted (0 waits for Ctrl+C)")
	cmd.Flags().BoolVar(&gather, "gather", true, "Offer locally gathered ICE candidates")

	return cmd
}

func runCall(ctx context.Context, cfg *config.Config, peer string, duration time.Duration, gather bool) error {
	offer := &jingle.Session{Contents: []jingle.Content{{
		Name:     "audio",
		Media:    "audio",
		Payloads: []jingle.Payload{{ID: 111, Name: "opus", ClockRate: 48000}},
	}}}
	if gather {
		servers := cfg.STUNServers
		if len(servers) == 0 {
			servers = webrtc.DefaultSTUNServers
		}
		gctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		tr, err := webrtc.GatherTransport(gctx, servers)
		cancel()
		if err != nil {
			return fmt.Errorf("gather candidates: %w", err)
		}
		offer.Contents[0].Transport = tr
	}

	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown(c, cfg)

	sid, err := c.InitiateRTP(peer, offer)
	if err != nil {
		return err
	}
	util.LogInfo("[%s] calling %s", sid, peer)

	done := make(chan struct{})
	var once sync.Once
	var result error
	finish := func(err error) {
		once.Do(func() {
			result = err
			close(done)
		})
	}

	c.On(events.InitiationAcknowledged, logEvent)
	c.On(events.Ring, func(e events.Event) {
		if e.SID != sid {
			return
		}
		pterm.Info.Printfln("%s is ringing", e.Peer)
		if err := c.AckRing(peer, sid); err != nil {
			util.LogWarning("ack ring: %v", err)
		}
	})
	c.On(events.SessionAccepted, func(e events.Event) {
		if e.SID != sid {
			return
		}
		util.LogSuccess("[%s] accepted by %s", sid, e.Peer)
		if sdp, err := webrtc.SessionToSDP(e.Session); err == nil {
			pterm.DefaultBox.WithTitle("negotiated session").Println(sdp)
		} else {
			util.LogWarning("render sdp: %v", err)
		}
		if duration > 0 {
			time.AfterFunc(duration, func() { finish(nil) })
		}
	})
	c.On(events.Terminated, func(e events.Event) {
		if e.SID != sid {
			return
		}
		if e.Reason != jingle.ReasonSuccess {
			finish(fmt.Errorf("call ended: %s", e.Reason))
			return
		}
		finish(nil)
	})

	if err := pump(ctx, c, done); err != nil {
		return err
	}
	if err := c.TerminateSession(peer, sid, jingle.ReasonSuccess); err != nil {
		util.LogWarning("hang up: %v", err)
	}
	return result
}
