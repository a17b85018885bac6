// Package webrtc bridges jingle descriptions and pion: candidate and SDP
// conversion, and local candidate gathering.
package webrtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/jinglesig/internal/jingle"
	"github.com/1ureka/jinglesig/internal/util"
)

// DefaultSTUNServers are used when no servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// NewPeerConnection creates a PeerConnection using the given STUN servers.
// An empty list gathers host candidates only.
func NewPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return webrtc.NewPeerConnection(config)
}

// GatherTransport gathers local ICE candidates and returns them with the
// local credentials as a jingle transport.
func GatherTransport(ctx context.Context, stunServers []string) (jingle.ICETransport, error) {
	pc, err := NewPeerConnection(stunServers)
	if err != nil {
		return jingle.ICETransport{}, err
	}
	defer pc.Close()

	// Gathering needs at least one media section.
	if _, err := pc.CreateDataChannel("probe", nil); err != nil {
		return jingle.ICETransport{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return jingle.ICETransport{}, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return jingle.ICETransport{}, err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return jingle.ICETransport{}, ctx.Err()
	}

	contents, warnings, err := ContentsFromSDP(pc.LocalDescription().SDP)
	if err != nil {
		return jingle.ICETransport{}, err
	}
	if warnings > 0 {
		util.LogWarning("skipped %d unparseable local candidates", warnings)
	}
	if len(contents) == 0 {
		return jingle.ICETransport{}, fmt.Errorf("gather: local description has no media")
	}

	t := contents[0].Transport
	util.LogDebug("gathered %d local candidates", len(t.Candidates))
	return t, nil
}
