package session

// Phase is the connection lifecycle state of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseAwaitingOffer
	PhaseNegotiating
	PhaseConnected
	PhaseDisconnected
	PhaseReconnecting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitializing:
		return "initializing"
	case PhaseAwaitingOffer:
		return "awaiting offer"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
