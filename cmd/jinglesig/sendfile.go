package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/jinglesig/internal/config"
	"github.com/1ureka/jinglesig/internal/events"
	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/util"
)

func newSendFileCommand(cfg *config.Config) *cobra.Command {
	var desc string

	cmd := &cobra.Command{
		Use:     "send-file <peer> <path>",
		Short:   "Offer a file to a peer and confirm its hash",
		Example: "jinglesig send-file bob@example ./notes.txt --jid alice@example",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSendFile(cmd.Context(), cfg, args[0], args[1], desc)
		},
	}

	cmd.Flags().StringVar(&desc, "desc", "", "File description")

	return cmd
}

func runSendFile(ctx context.Context, cfg *config.Config, peer, path, desc string) error {
	hash, size, err := util.HashFile(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown(c, cfg)

	offer := &jingle.FileOffer{
		Name:     filepath.Base(path),
		Date:     info.ModTime().UTC().Format(time.RFC3339),
		Desc:     desc,
		Size:     size,
		Hash:     hash,
		HashAlgo: jingle.HashAlgoSHA1,
	}
	sid, err := c.InitiateFileTransfer(peer, offer)
	if err != nil {
		return err
	}
	util.LogInfo("[%s] offering %s (%d bytes) to %s", sid, offer.Name, size, peer)

	done := make(chan struct{})
	var once sync.Once
	var result error
	finish := func(err error) {
		once.Do(func() {
			result = err
			close(done)
		})
	}

	c.On(events.FileInitiationAccepted, func(e events.Event) {
		if e.SID != sid || e.File == nil {
			return
		}
		util.LogSuccess("[%s] %s accepted the file", sid, e.Peer)
		err := c.SendFileHash(peer, jingle.HashAnnouncement{
			SID:  sid,
			FID:  e.File.FID,
			Hash: hash,
			Algo: jingle.HashAlgoSHA1,
		})
		if err != nil {
			finish(err)
		}
	})
	c.On(events.HashAcknowledged, func(e events.Event) {
		if e.SID != sid {
			return
		}
		util.LogSuccess("[%s] hash confirmed", sid)
		finish(nil)
	})
	c.On(events.HashTimeout, func(e events.Event) {
		if e.SID == sid {
			finish(fmt.Errorf("hash confirmation timed out"))
		}
	})
	c.On(events.Terminated, func(e events.Event) {
		if e.SID == sid {
			finish(fmt.Errorf("transfer ended: %s", e.Reason))
		}
	})

	if err := pump(ctx, c, done); err != nil {
		return err
	}
	reason := jingle.ReasonSuccess
	if result != nil {
		reason = jingle.ReasonUnknown
	}
	if err := c.TerminateSession(peer, sid, reason); err != nil {
		util.LogWarning("terminate: %v", err)
	}
	return result
}
