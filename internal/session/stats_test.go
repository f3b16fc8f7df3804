package session

import (
	"sync"
	"testing"
	"time"

	"remotedesk/internal/identity"
)

// statsPeer scripts a sequence of monotonically advancing stats
// readings: each poll advances 100ms of wall clock, 3 decoded frames,
// and 12500 received bytes.
type statsPeer struct {
	mockPeer

	statsMu sync.Mutex
	reads   uint64
	base    time.Time
}

func (p *statsPeer) Stats() StatsSnapshot {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.reads++
	return StatsSnapshot{
		At:                 p.base.Add(time.Duration(p.reads) * 100 * time.Millisecond),
		HasPair:            true,
		RTT:                25 * time.Millisecond,
		Relayed:            true,
		VideoFramesDecoded: p.reads * 3,
		VideoPacketsLost:   7,
		VideoJitter:        2 * time.Millisecond,
		BytesReceived:      p.reads * 12500,
	}
}

func TestStatsPollerDerivesRates(t *testing.T) {
	sig := newMockSignaler()
	peer := &statsPeer{base: time.Unix(1000, 0)}
	s := New(Config{
		Signaler:      sig,
		Identity:      identity.Identity{ID: "client-uuid"},
		NewPeer:       func() (PeerLink, error) { return peer, nil },
		StatsInterval: 5 * time.Millisecond,
	})
	if err := s.InitConnections(); err != nil {
		t.Fatal(err)
	}
	defer s.Disconnect()

	deadline := time.After(2 * time.Second)
	var stats Stats
	for {
		stats = s.Stats()
		if stats.VideoFPS > 0 && stats.BandwidthKbps > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("rates never derived, stats = %+v", stats)
		case <-time.After(time.Millisecond):
		}
	}

	// 3 frames per scripted 100ms step.
	if stats.VideoFPS < 29.9 || stats.VideoFPS > 30.1 {
		t.Fatalf("VideoFPS = %v, want 30", stats.VideoFPS)
	}
	// 12500 bytes per 100ms is 1000 kbps.
	if stats.BandwidthKbps < 999 || stats.BandwidthKbps > 1001 {
		t.Fatalf("BandwidthKbps = %v, want 1000", stats.BandwidthKbps)
	}
	if stats.LatencyMS != 25 {
		t.Fatalf("LatencyMS = %v, want 25", stats.LatencyMS)
	}
	if stats.ConnectionType != "relay" {
		t.Fatalf("ConnectionType = %q, want relay", stats.ConnectionType)
	}
	if stats.VideoPacketsLost != 7 {
		t.Fatalf("VideoPacketsLost = %d, want 7", stats.VideoPacketsLost)
	}
}
