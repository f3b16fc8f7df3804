package session

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"remotedesk/internal/protocol"
)

// PeerLink narrows *webrtc.PeerConnection to the calls the negotiator
// makes, so tests can drive the state machine with a fake peer. The
// session owns the link exclusively; adapters only see the data channel
// through Session.Channel.
type PeerLink interface {
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnDataChannel(func(DataChannel))
	OnTrack(func(kind string))

	SetConfiguration(servers []webrtc.ICEServer) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	Stats() StatsSnapshot
	Close() error
}

// DataChannel is the negotiated event channel as seen by the session.
// It extends the adapters' protocol.Channel view with lifecycle hooks.
type DataChannel interface {
	protocol.Channel
	Label() string
	OnOpen(func())
	OnClose(func())
	Close() error
}

// StatsSnapshot is one reading of the peer connection's statistics,
// already reduced to the measurements the session reports.
type StatsSnapshot struct {
	At time.Time

	// Selected candidate pair.
	HasPair bool
	RTT     time.Duration
	Relayed bool

	// Inbound video. Frames decoded is cumulative; the poller turns it
	// into a frame rate from deltas between readings.
	VideoFramesDecoded uint64
	VideoPacketsLost   int64
	VideoJitter        time.Duration

	// Total inbound bytes, for the bandwidth estimate.
	BytesReceived uint64
}

// DefaultSTUNServer is used for candidate gathering until the host's
// offer supplies its own ICE server list.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// NewPionPeer creates a production PeerLink backed by pion/webrtc.
func NewPionPeer() (PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		f(c.ToJSON())
	})
}

func (p *pionPeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(f)
}

func (p *pionPeer) OnDataChannel(f func(DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(&pionChannel{dc: dc})
	})
}

func (p *pionPeer) OnTrack(f func(kind string)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(track.Kind().String())
	})
}

func (p *pionPeer) SetConfiguration(servers []webrtc.ICEServer) error {
	return p.pc.SetConfiguration(webrtc.Configuration{ICEServers: servers})
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Close stops all outbound track senders before closing the connection,
// so a replacement connection starts from a clean slate.
func (p *pionPeer) Close() error {
	for _, sender := range p.pc.GetSenders() {
		_ = sender.Stop()
	}
	return p.pc.Close()
}

// Stats reduces the pion stats report to a StatsSnapshot. The selected
// pair is the succeeded, nominated candidate pair; the path counts as
// relayed when either end of it is a relay candidate.
func (p *pionPeer) Stats() StatsSnapshot {
	report := p.pc.GetStats()
	snap := StatsSnapshot{At: time.Now()}

	candidateTypes := make(map[string]webrtc.ICECandidateType)
	for _, s := range report {
		if c, ok := s.(webrtc.ICECandidateStats); ok {
			candidateTypes[c.ID] = c.CandidateType
		}
	}

	for _, s := range report {
		switch stat := s.(type) {
		case webrtc.ICECandidatePairStats:
			if stat.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			snap.HasPair = true
			snap.RTT = time.Duration(stat.CurrentRoundTripTime * float64(time.Second))
			snap.Relayed = candidateTypes[stat.LocalCandidateID] == webrtc.ICECandidateTypeRelay ||
				candidateTypes[stat.RemoteCandidateID] == webrtc.ICECandidateTypeRelay

		case webrtc.InboundRTPStreamStats:
			snap.BytesReceived += uint64(stat.BytesReceived)
			if stat.Kind == "video" {
				snap.VideoFramesDecoded = uint64(stat.FramesDecoded)
				snap.VideoPacketsLost = int64(stat.PacketsLost)
				snap.VideoJitter = time.Duration(stat.Jitter * float64(time.Second))
			}
		}
	}
	return snap
}

// pionChannel adapts *webrtc.DataChannel to DataChannel.
type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Ready() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *pionChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c *pionChannel) Label() string          { return c.dc.Label() }
func (c *pionChannel) OnOpen(f func())        { c.dc.OnOpen(f) }
func (c *pionChannel) OnClose(f func())       { c.dc.OnClose(f) }
func (c *pionChannel) Close() error           { return c.dc.Close() }
