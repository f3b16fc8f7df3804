package session

import "time"

// Stats is the advisory link telemetry surfaced to the UI. Nothing here
// affects protocol behavior.
type Stats struct {
	LatencyMS float64

	// ConnectionType is "relay" when the selected candidate pair goes
	// through a TURN server, "direct" otherwise, and "" before a pair
	// is selected.
	ConnectionType string

	VideoFPS         float64
	VideoPacketsLost int64
	VideoJitterMS    float64

	// BandwidthKbps is derived from inbound byte deltas over wall-clock
	// time between polls.
	BandwidthKbps float64
}

// Stats returns the latest telemetry reading. Readings reset whenever
// the peer connection is replaced.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// pollStats periodically reduces the peer's stats report. It exits when
// the peer connection it was started for is superseded.
func (s *Session) pollStats(gen uint64, peer PeerLink) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	var prevBytes, prevFrames uint64
	var prevAt time.Time

	for range ticker.C {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		snap := peer.Stats()

		stats := Stats{
			VideoPacketsLost: snap.VideoPacketsLost,
			VideoJitterMS:    float64(snap.VideoJitter) / float64(time.Millisecond),
		}
		if snap.HasPair {
			stats.LatencyMS = float64(snap.RTT) / float64(time.Millisecond)
			if snap.Relayed {
				stats.ConnectionType = "relay"
			} else {
				stats.ConnectionType = "direct"
			}
		}
		if !prevAt.IsZero() && snap.At.After(prevAt) {
			elapsed := snap.At.Sub(prevAt).Seconds()
			if snap.BytesReceived >= prevBytes {
				stats.BandwidthKbps = float64(snap.BytesReceived-prevBytes) * 8 / 1000 / elapsed
			}
			if snap.VideoFramesDecoded >= prevFrames {
				stats.VideoFPS = float64(snap.VideoFramesDecoded-prevFrames) / elapsed
			}
		}
		prevBytes = snap.BytesReceived
		prevFrames = snap.VideoFramesDecoded
		prevAt = snap.At

		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.stats = stats
		s.mu.Unlock()

		if s.metrics != nil {
			if snap.HasPair {
				s.metrics.ObserveLink(stats.LatencyMS, snap.Relayed)
			}
			s.metrics.ObserveVideo(stats.VideoFPS, float64(stats.VideoPacketsLost), stats.VideoJitterMS)
			s.metrics.ObserveBandwidth(stats.BandwidthKbps)
		}
	}
}
