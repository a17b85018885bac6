package main

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/jinglesig/internal/app"
	"github.com/1ureka/jinglesig/internal/config"
	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/util"
	"github.com/1ureka/jinglesig/internal/webrtc"
)

func newListenCommand(cfg *config.Config) *cobra.Command {
	var gather bool
	var reject bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay online, answer calls and receive file offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			c, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdown(c, cfg)

			l := &listener{ctx: ctx, c: c, cfg: cfg, gather: gather, reject: reject}
			l.register()

			util.LogInfo("listening as %s, press Ctrl+C to quit", c.BoundJID())
			return pump(ctx, c, nil)
		},
	}

	cmd.Flags().BoolVar(&gather, "gather", true, "Answer calls with locally gathered ICE candidates")
	cmd.Flags().BoolVar(&reject, "busy", false, "Decline every call as busy")

	return cmd
}

// listener answers inbound negotiations.
type listener struct {
	ctx    context.Context
	c      *app.Client
	cfg    *config.Config
	gather bool
	reject bool

	offers map[string]*jingle.FileOffer // by file id
}

func (l *listener) register() {
	l.offers = make(map[string]*jingle.FileOffer)

	l.c.On(events.UserConnected, func(e events.Event) {
		pterm.Info.Printfln("%s is online", e.Peer)
	})
	l.c.On(events.UserDisconnected, func(e events.Event) {
		pterm.Info.Printfln("%s went offline", e.Peer)
	})
	l.c.On(events.NewMessage, func(e events.Event) {
		pterm.Printfln("%s: %s", pterm.Bold.Sprint(e.Peer), e.Body)
	})
	l.c.On(events.InitiationReceived, l.onCall)
	l.c.On(events.FileInitiationReceived, l.onFile)
	l.c.On(events.HashReceived, l.onHash)
	l.c.On(events.Terminated, func(e events.Event) {
		util.LogInfo("[%s] ended with %s: %s", e.SID, e.Peer, e.Reason)
	})
	l.c.On(events.TransportInfo, logEvent)
	l.c.On(events.HashTimeout, func(e events.Event) {
		util.LogWarning("[%s] no hash confirmation from %s", e.SID, e.Peer)
	})
}

func (l *listener) onCall(e events.Event) {
	util.LogInfo("[%s] incoming call from %s", e.SID, e.Peer)
	if l.reject {
		l.check(l.c.TerminateSession(e.Peer, e.SID, jingle.ReasonBusy))
		return
	}
	if !l.cfg.AutoAck {
		l.check(l.c.Ack(e.Peer, e.SID))
	}
	if err := l.c.Ring(e.Peer, e.SID); err != nil {
		util.LogError("[%s] ring: %v", e.SID, err)
		return
	}

	var answer *jingle.Session
	if l.gather && e.Session != nil {
		gctx, cancel := context.WithTimeout(l.ctx, 10*time.Second)
		tr, err := webrtc.GatherTransport(gctx, l.stunServers())
		cancel()
		if err != nil {
			util.LogWarning("[%s] gather: %v, echoing the offer", e.SID, err)
		} else {
			answer = e.Session.Clone()
			for i := range answer.Contents {
				answer.Contents[i].Transport = tr
			}
		}
	}
	if err := l.c.AcceptRTPSession(e.Peer, e.SID, answer); err != nil {
		util.LogError("[%s] accept: %v", e.SID, err)
		return
	}
	util.LogSuccess("[%s] call with %s accepted", e.SID, e.Peer)
}

func (l *listener) onFile(e events.Event) {
	if e.File == nil {
		return
	}
	util.LogInfo("[%s] %s offers %s (%d bytes)", e.SID, e.Peer, e.File.Name, e.File.Size)
	if l.reject {
		l.check(l.c.TerminateSession(e.Peer, e.SID, jingle.ReasonDeclined))
		return
	}
	l.offers[e.File.FID] = e.File
	if !l.cfg.AutoAck {
		l.check(l.c.Ack(e.Peer, e.SID))
	}
	l.check(l.c.AcceptFileTransfer(e.Peer, e.SID, nil))
}

func (l *listener) onHash(e events.Event) {
	if e.Hash == nil {
		return
	}
	offer, ok := l.offers[e.Hash.FID]
	if ok && offer.Hash != "" && offer.Hash != e.Hash.Hash {
		util.LogWarning("[%s] hash of %s differs from the offer", e.SID, offer.Name)
	}
	delete(l.offers, e.Hash.FID)
	l.check(l.c.AckHash(e.Hash.FID))
}

func (l *listener) stunServers() []string {
	if len(l.cfg.STUNServers) > 0 {
		return l.cfg.STUNServers
	}
	return webrtc.DefaultSTUNServers
}

func (l *listener) check(err error) {
	if err != nil {
		util.LogError("%v", err)
	}
}
