// Package session owns the peer connection lifecycle: negotiation over
// the signaling channel, data channel exposure for the input adapters,
// health monitoring, and automatic reconnection.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"remotedesk/internal/identity"
	"remotedesk/internal/metrics"
	"remotedesk/internal/protocol"
	"remotedesk/internal/signaling"
)

// Signaler is the session's view of the signaling transport: message
// delivery plus a connectivity signal. The production implementation is
// signaling.Client.
type Signaler interface {
	SendMessage(msg signaling.Message) error
	Online() bool
	AwaitOnline(ctx context.Context) error
	OnStateChange(handler func(online bool))
}

const (
	defaultJoinAttempts   = 3
	defaultJoinRetryDelay = 1 * time.Second
	defaultConnectTimeout = 15 * time.Second
	defaultStatsInterval  = 1 * time.Second
	retryDelay            = 2 * time.Second
)

// Config wires a Session's collaborators. Zero-value optional fields get
// defaults.
type Config struct {
	Signaler Signaler
	Identity identity.Identity
	Logger   *slog.Logger
	Metrics  *metrics.Metrics // optional

	// NewPeer creates peer connections; defaults to NewPionPeer.
	NewPeer func() (PeerLink, error)

	JoinAttempts   int
	JoinRetryDelay time.Duration
	ConnectTimeout time.Duration
	StatsInterval  time.Duration
}

// Session is the connection state machine. It is safe for concurrent
// use; inbound signaling messages must be delivered to HandleSignal from
// a single goroutine so candidate order is preserved.
type Session struct {
	signaler Signaler
	identity identity.Identity
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newPeer  func() (PeerLink, error)

	joinAttempts   int
	joinRetryDelay time.Duration
	connectTimeout time.Duration
	statsInterval  time.Duration

	mu      sync.Mutex
	phase   Phase
	status  string
	peer    PeerLink
	channel DataChannel

	deviceID string
	password string

	// persist is the should-persist-connection flag: while true, loss of
	// the peer connection triggers automatic reconnection with the
	// retained device and password. Disconnect clears it, which also
	// turns any in-flight reconnection attempt into a no-op.
	persist bool

	// persistCtx bounds automatic reconnection attempts. Disconnect
	// cancels it so an attempt parked waiting for connectivity unwinds
	// immediately instead of holding the attempting flag.
	persistCtx    context.Context
	persistCancel context.CancelFunc

	// attempting guards the join retry loop so a second connection
	// attempt cannot race one that is outstanding.
	attempting bool

	// generation increments whenever the peer connection is replaced or
	// torn down. Callbacks capture the generation they were registered
	// under and bail out if the session has been superseded.
	generation uint64

	remoteDescSet     bool
	pendingCandidates []webrtc.ICECandidateInit

	attemptTimer *time.Timer
	retryTimer   *time.Timer

	readySent bool
	stats     Stats
}

// New creates a Session. InitConnections must be called before
// ConnectToDevice.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewPeer == nil {
		cfg.NewPeer = NewPionPeer
	}
	if cfg.JoinAttempts == 0 {
		cfg.JoinAttempts = defaultJoinAttempts
	}
	if cfg.JoinRetryDelay == 0 {
		cfg.JoinRetryDelay = defaultJoinRetryDelay
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = defaultStatsInterval
	}

	s := &Session{
		signaler:       cfg.Signaler,
		identity:       cfg.Identity,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		newPeer:        cfg.NewPeer,
		joinAttempts:   cfg.JoinAttempts,
		joinRetryDelay: cfg.JoinRetryDelay,
		connectTimeout: cfg.ConnectTimeout,
		statsInterval:  cfg.StatsInterval,
		phase:          PhaseIdle,
		status:         "idle",
	}
	cfg.Signaler.OnStateChange(s.handleConnectivity)
	return s
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Status returns the human-readable connection status for UI display.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Channel returns the current data channel as seen by the input
// adapters, or nil while none is open. Adapters must call this for
// every send; reconnection replaces the handle.
func (s *Session) Channel() protocol.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil
	}
	return s.channel
}

// InitConnections creates a fresh peer connection, registers its event
// hooks, and starts metrics polling. It fails without a local identity
// and leaves the session unchanged.
func (s *Session) InitConnections() error {
	if s.identity.ID == "" {
		return fmt.Errorf("no local identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer != nil {
		return fmt.Errorf("session already initialized")
	}
	if err := s.createPeerLocked(); err != nil {
		return err
	}
	s.setPhaseLocked(PhaseInitializing, "initialized")
	return nil
}

// ConnectToDevice joins the device's room and retains the credentials
// for automatic reconnection. When the signaling server is offline it
// blocks, cancellably, until connectivity returns. Join failures are
// retried a bounded number of times with a fixed delay; exhaustion is
// reported through Status and retried later while the session persists.
func (s *Session) ConnectToDevice(ctx context.Context, deviceID, password string) error {
	s.mu.Lock()
	if s.peer == nil {
		s.mu.Unlock()
		return fmt.Errorf("session not initialized")
	}
	if s.attempting {
		s.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	s.attempting = true
	s.deviceID = deviceID
	s.password = password
	s.persist = true
	if s.persistCancel == nil {
		s.persistCtx, s.persistCancel = context.WithCancel(context.Background())
	}
	s.setPhaseLocked(PhaseAwaitingOffer, "connecting to "+deviceID)
	gen := s.generation
	s.mu.Unlock()

	err := s.runJoin(ctx, gen, deviceID, password)

	s.mu.Lock()
	s.attempting = false
	s.mu.Unlock()
	return err
}

// runJoin waits for connectivity and sends the join message with
// bounded retries, then arms the connection-attempt timeout.
func (s *Session) runJoin(ctx context.Context, gen uint64, deviceID, password string) error {
	if !s.signaler.Online() {
		s.logger.Info("waiting for signaling connectivity")
		if err := s.signaler.AwaitOnline(ctx); err != nil {
			return fmt.Errorf("waiting for connectivity: %w", err)
		}
	}

	s.mu.Lock()
	if gen != s.generation || !s.persist {
		s.mu.Unlock()
		return nil // superseded while waiting
	}
	s.mu.Unlock()

	join := signaling.Join(deviceID, s.identity.ID, s.identity.Name, password)
	var lastErr error
	for attempt := 1; attempt <= s.joinAttempts; attempt++ {
		lastErr = s.signaler.SendMessage(join)
		if lastErr == nil {
			s.mu.Lock()
			if gen == s.generation {
				s.armAttemptTimeoutLocked(gen)
			}
			s.mu.Unlock()
			return nil
		}
		s.logger.Warn("join send failed", "attempt", attempt, "error", lastErr)
		if attempt < s.joinAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.joinRetryDelay):
			}
		}
	}

	s.mu.Lock()
	if gen == s.generation {
		s.setPhaseLocked(PhaseFailed, "join failed: "+lastErr.Error())
		if s.persist {
			s.scheduleRetryLocked()
		}
	}
	s.mu.Unlock()
	return nil
}

// armAttemptTimeoutLocked restarts the connection-attempt timer: when
// the session has not reached Connected by the deadline, the whole
// attempt is torn down and retried.
func (s *Session) armAttemptTimeoutLocked(gen uint64) {
	if s.attemptTimer != nil {
		s.attemptTimer.Stop()
	}
	s.attemptTimer = time.AfterFunc(s.connectTimeout, func() {
		s.mu.Lock()
		if gen != s.generation || s.phase == PhaseConnected || !s.persist {
			s.mu.Unlock()
			return
		}
		s.setPhaseLocked(PhaseReconnecting, "connection attempt timed out, retrying")
		peer, ch := s.supersedeLocked()
		device := s.deviceID
		s.mu.Unlock()

		closePeer(peer, ch)
		s.logger.Warn("connection attempt timed out", "device", device)
		s.reconnect()
	})
}

// HandleSignal processes one inbound signaling message. Messages tagged
// with the session's own identity are reflections and are dropped.
// Callers must invoke HandleSignal from a single goroutine.
func (s *Session) HandleSignal(msg signaling.Message) {
	if msg.UUID != "" && msg.UUID == s.identity.ID {
		return
	}

	switch msg.Type {
	case signaling.TypeOffer:
		s.handleOffer(msg)
	case signaling.TypeICE:
		s.handleICE(msg)
	case signaling.TypeKeepAlive:
		// transport-level, nothing to do
	default:
		s.logger.Debug("ignoring signaling message", "type", msg.Type)
	}
}

// handleOffer merges the host's ICE servers, applies the remote
// description, flushes queued candidates, and answers.
func (s *Session) handleOffer(msg signaling.Message) {
	if msg.SDP == nil {
		s.logger.Warn("offer without sdp")
		return
	}

	s.mu.Lock()
	peer := s.peer
	gen := s.generation
	device := s.deviceID
	if peer == nil {
		s.mu.Unlock()
		s.logger.Warn("offer received before initialization")
		return
	}
	s.setPhaseLocked(PhaseNegotiating, "negotiating")
	s.mu.Unlock()

	if len(msg.ICEServers) > 0 {
		if err := peer.SetConfiguration(MergeICEServers(msg.ICEServers)); err != nil {
			s.logger.Warn("applying offered ice servers failed", "error", err)
		}
	}

	if err := peer.SetRemoteDescription(*msg.SDP); err != nil {
		s.failAttempt(gen, fmt.Errorf("setting remote description: %w", err))
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.remoteDescSet = true
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	// Flush in arrival order, strictly sequentially.
	for _, candidate := range pending {
		if err := peer.AddICECandidate(candidate); err != nil {
			s.logger.Warn("applying queued ice candidate failed", "error", err)
		}
	}

	answer, err := peer.CreateAnswer()
	if err != nil {
		s.failAttempt(gen, fmt.Errorf("creating answer: %w", err))
		return
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		s.failAttempt(gen, fmt.Errorf("setting local description: %w", err))
		return
	}

	reply := signaling.Message{
		Type: signaling.TypeAnswer,
		SDP:  &answer,
		From: s.identity.ID,
		To:   device,
	}
	if err := s.signaler.SendMessage(reply); err != nil {
		s.failAttempt(gen, fmt.Errorf("sending answer: %w", err))
	}
}

// handleICE applies a remote candidate, or queues it FIFO while the
// remote description is not yet set.
func (s *Session) handleICE(msg signaling.Message) {
	if msg.ICE == nil {
		return
	}

	s.mu.Lock()
	peer := s.peer
	if peer == nil {
		s.mu.Unlock()
		return
	}
	if !s.remoteDescSet {
		s.pendingCandidates = append(s.pendingCandidates, *msg.ICE)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := peer.AddICECandidate(*msg.ICE); err != nil {
		s.logger.Warn("applying ice candidate failed", "error", err)
	}
}

// Disconnect ends the session for good: it suppresses further
// reconnection, best-effort notifies the host, tears everything down,
// and returns the machine to Idle. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.persist = false
	if s.persistCancel != nil {
		s.persistCancel()
		s.persistCtx, s.persistCancel = nil, nil
	}
	wasActive := s.peer != nil
	peer, ch := s.supersedeLocked()
	s.setPhaseLocked(PhaseIdle, "disconnected")
	s.stats = Stats{}
	s.mu.Unlock()

	if wasActive {
		// Courtesy notification; failure must not block teardown.
		if err := s.signaler.SendMessage(signaling.Leave(s.identity.ID)); err != nil {
			s.logger.Debug("leave send failed", "error", err)
		}
	}
	closePeer(peer, ch)
	if s.metrics != nil {
		s.metrics.SetConnected(false)
	}
}

// createPeerLocked builds a new peer connection and registers its hooks
// under the current generation. Callers hold s.mu.
func (s *Session) createPeerLocked() error {
	peer, err := s.newPeer()
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	s.peer = peer
	s.remoteDescSet = false
	s.pendingCandidates = nil
	s.readySent = false
	s.stats = Stats{}
	gen := s.generation

	peer.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		s.sendCandidate(gen, candidate)
	})
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.handleConnectionState(gen, state)
	})
	peer.OnDataChannel(func(dc DataChannel) {
		s.handleDataChannel(gen, dc)
	})
	peer.OnTrack(func(kind string) {
		s.logger.Info("remote track started", "kind", kind)
	})

	go s.pollStats(gen, peer)
	return nil
}

// sendCandidate forwards a locally discovered candidate to the host.
func (s *Session) sendCandidate(gen uint64, candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	to := s.deviceID
	s.mu.Unlock()

	msg := signaling.Message{
		Type: signaling.TypeICE,
		ICE:  &candidate,
		From: s.identity.ID,
		To:   to,
	}
	if err := s.signaler.SendMessage(msg); err != nil {
		s.logger.Debug("ice candidate send failed", "error", err)
	}
}

// handleConnectionState reacts to peer connection state transitions.
func (s *Session) handleConnectionState(gen uint64, state webrtc.PeerConnectionState) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.logger.Info("peer connection state", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.setPhaseLocked(PhaseConnected, "connected to "+s.deviceID)
		s.stopTimersLocked()
		s.maybeAnnounceReadyLocked()
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SetConnected(true)
		}

	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		if !s.persist {
			s.setPhaseLocked(PhaseDisconnected, "connection lost")
			s.mu.Unlock()
			return
		}
		// Self-healing path: tear down and immediately re-attempt with
		// the retained device and password.
		s.setPhaseLocked(PhaseReconnecting, "connection lost, reconnecting")
		peer, ch := s.supersedeLocked()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.SetConnected(false)
		}
		closePeer(peer, ch)
		go s.reconnect()

	default:
		s.mu.Unlock()
	}
}

// handleDataChannel adopts the host-initiated data channel.
func (s *Session) handleDataChannel(gen uint64, dc DataChannel) {
	s.logger.Info("data channel received", "label", dc.Label())
	dc.OnOpen(func() {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			dc.Close()
			return
		}
		s.channel = dc
		s.maybeAnnounceReadyLocked()
		s.mu.Unlock()
		s.logger.Info("data channel open", "label", dc.Label())
	})
	dc.OnClose(func() {
		s.mu.Lock()
		if s.channel == dc {
			s.channel = nil
		}
		s.mu.Unlock()
		s.logger.Info("data channel closed", "label", dc.Label())
	})
}

// maybeAnnounceReadyLocked emits the one-shot "ready" marker over the
// data channel once the session is Connected with an open channel. This
// is host-side synchronization only; failure is swallowed.
func (s *Session) maybeAnnounceReadyLocked() {
	if s.readySent || s.phase != PhaseConnected || s.channel == nil || !s.channel.Ready() {
		return
	}
	if err := s.channel.Send([]byte("ready")); err != nil {
		s.logger.Debug("ready announcement failed", "error", err)
		return
	}
	s.readySent = true
}

// handleConnectivity reacts to the signaling transport's online signal.
func (s *Session) handleConnectivity(online bool) {
	s.mu.Lock()
	if !s.persist {
		s.mu.Unlock()
		return
	}

	if !online {
		// A dead network cannot negotiate; tear down proactively rather
		// than let the attempt time out.
		if s.peer == nil {
			s.mu.Unlock()
			return
		}
		s.setPhaseLocked(PhaseDisconnected, "network offline")
		peer, ch := s.supersedeLocked()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.SetConnected(false)
		}
		closePeer(peer, ch)
		return
	}

	if s.phase == PhaseConnected {
		s.mu.Unlock()
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()
	go s.reconnect()
}

// reconnect re-attempts the stored connection. It is a no-op when the
// session no longer persists or an attempt is already in flight.
func (s *Session) reconnect() {
	s.mu.Lock()
	if !s.persist || s.attempting {
		s.mu.Unlock()
		return
	}
	if s.peer == nil {
		if err := s.createPeerLocked(); err != nil {
			s.setPhaseLocked(PhaseFailed, "reconnect failed: "+err.Error())
			s.scheduleRetryLocked()
			s.mu.Unlock()
			return
		}
	}
	deviceID, password := s.deviceID, s.password
	ctx := s.persistCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	if s.metrics != nil {
		s.metrics.ReconnectStarted()
	}
	if err := s.ConnectToDevice(ctx, deviceID, password); err != nil {
		s.logger.Warn("reconnect attempt failed", "error", err)
	}
}

// failAttempt reports a negotiation failure and, while the session
// persists, tears down and schedules a retry.
func (s *Session) failAttempt(gen uint64, err error) {
	s.logger.Error("negotiation failed", "error", err)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	if !s.persist {
		s.setPhaseLocked(PhaseFailed, err.Error())
		s.mu.Unlock()
		return
	}
	s.setPhaseLocked(PhaseReconnecting, err.Error())
	peer, ch := s.supersedeLocked()
	s.scheduleRetryLocked()
	s.mu.Unlock()

	closePeer(peer, ch)
}

// scheduleRetryLocked arms the retry timer. Callers hold s.mu.
func (s *Session) scheduleRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.AfterFunc(retryDelay, s.reconnect)
}

// supersedeLocked detaches the current peer connection and data channel,
// bumps the generation so stale callbacks become no-ops, and stops all
// timers. The caller must close the returned handles after releasing
// s.mu: closing inside the lock could deadlock against callbacks that
// re-enter the session.
func (s *Session) supersedeLocked() (PeerLink, DataChannel) {
	peer, ch := s.peer, s.channel
	s.peer = nil
	s.channel = nil
	s.generation++
	s.remoteDescSet = false
	s.pendingCandidates = nil
	s.readySent = false
	s.stats = Stats{}
	s.stopTimersLocked()
	return peer, ch
}

func (s *Session) stopTimersLocked() {
	if s.attemptTimer != nil {
		s.attemptTimer.Stop()
		s.attemptTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Session) setPhaseLocked(phase Phase, status string) {
	s.phase = phase
	s.status = status
}

func closePeer(peer PeerLink, ch DataChannel) {
	if ch != nil {
		_ = ch.Close()
	}
	if peer != nil {
		_ = peer.Close()
	}
}
