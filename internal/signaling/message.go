// Package signaling provides the JSON session-control message schema and
// a reconnecting WebSocket client for the relay signaling server.
package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message type tags.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeICE       = "ice"
	TypeKeepAlive = "keep_alive"
)

// Message is one signaling frame. The Type tag selects which of the
// optional fields are meaningful; unused fields are omitted on the wire.
type Message struct {
	Type string `json:"type"`

	// Routing. UUID tags the originating peer so receivers can drop
	// their own reflected messages.
	Room string `json:"room,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Name string `json:"name,omitempty"`
	UUID string `json:"uuid,omitempty"`

	// Join credentials.
	Auth *Auth `json:"auth,omitempty"`

	// Session negotiation payloads.
	SDP        *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICE        *webrtc.ICECandidateInit   `json:"ice,omitempty"`
	ICEServers []ICEServer                `json:"ice_servers,omitempty"`
}

// Auth carries room-join credentials.
type Auth struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

// ICEServer describes one STUN/TURN server offered by the host in an
// offer message. CredentialType is sanitized by the session before use.
type ICEServer struct {
	URLs           URLList `json:"urls"`
	Username       string  `json:"username,omitempty"`
	Credential     string  `json:"credential,omitempty"`
	CredentialType string  `json:"credential_type,omitempty"`
}

// URLList accepts both the single-string and array forms that hosts use
// for the urls field.
type URLList []string

func (u *URLList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*u = URLList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*u = URLList(many)
	return nil
}

// Join builds the join message for a device room.
func Join(room, from, name, password string) Message {
	return Message{
		Type: TypeJoin,
		Room: room,
		From: from,
		Name: name,
		Auth: &Auth{Type: "password", Password: password},
	}
}

// Leave builds the courtesy leave notification.
func Leave(from string) Message {
	return Message{Type: TypeLeave, From: from}
}
