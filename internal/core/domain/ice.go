package domain

import "strings"

// ICEServer mirrors an RTCIceServer entry.
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// NeedsCredentials reports whether any URL of the server is a TURN URL.
func (s ICEServer) NeedsCredentials() bool {
	for _, u := range s.URLs {
		lower := strings.ToLower(u)
		if strings.HasPrefix(lower, "turn:") || strings.HasPrefix(lower, "turns:") {
			return true
		}
	}
	return false
}

func (s ICEServer) HasCredentials() bool {
	return s.Username != "" && s.Credential != ""
}

// Key identifies the server for credential caching.
func (s ICEServer) Key() string {
	return strings.Join(s.URLs, ",")
}

type ICETransportPolicy string

const (
	ICETransportPolicyAll   ICETransportPolicy = "all"
	ICETransportPolicyRelay ICETransportPolicy = "relay"
)

// ConnectionConfig is what a ConnectionFactory needs to build a connection.
type ConnectionConfig struct {
	ICEServers         []ICEServer
	ICETransportPolicy ICETransportPolicy
}

// ConnectivityResult is reported by the STUN/TURN diagnostics.
type ConnectivityResult struct {
	Success       bool    `json:"success"`
	RTT           float64 `json:"rtt"`
	CandidateType string  `json:"candidateType,omitempty"`
	PublicIP      string  `json:"publicIp,omitempty"`
	Error         string  `json:"error,omitempty"`
}
