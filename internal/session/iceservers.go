package session

import (
	"strings"

	"github.com/pion/webrtc/v4"

	"remotedesk/internal/signaling"
)

// SanitizeCredentialType maps a host-supplied credential_type value to
// the ICE credential type, case-insensitively. Only "password" and
// "oauth" are recognized; anything else, including an absent value,
// falls back to password.
func SanitizeCredentialType(value string) webrtc.ICECredentialType {
	if strings.EqualFold(value, "oauth") {
		return webrtc.ICECredentialTypeOauth
	}
	return webrtc.ICECredentialTypePassword
}

// MergeICEServers converts the ICE server list carried by an offer into
// the peer connection configuration, sanitizing credential types.
func MergeICEServers(offered []signaling.ICEServer) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(offered))
	for _, s := range offered {
		server := webrtc.ICEServer{
			URLs:           []string(s.URLs),
			Username:       s.Username,
			CredentialType: SanitizeCredentialType(s.CredentialType),
		}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}
