package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// PeerIDRegex validates peer ID format
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

const maxIDLength = 100

// ValidateRoomID validates room ID
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > maxIDLength {
		return fmt.Errorf("room ID is too long (max %d characters)", maxIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > maxIDLength {
		return fmt.Errorf("peer ID is too long (max %d characters)", maxIDLength)
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ValidateICEURL accepts stun:, turn: and turns: URLs with a host.
func ValidateICEURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("ICE server URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid ICE server URL: %w", err)
	}
	switch u.Scheme {
	case "stun", "stuns", "turn", "turns":
	default:
		return fmt.Errorf("invalid ICE server URL scheme %q (must be stun, stuns, turn or turns)", u.Scheme)
	}
	// stun:host:port parses as an opaque URL
	host, _, _ := strings.Cut(u.Opaque, "?")
	if host == "" {
		host = u.Host
	}
	if host == "" || strings.HasPrefix(host, ":") {
		return fmt.Errorf("ICE server URL must have a host")
	}
	return nil
}

// ValidateDeviceID allows an empty ID, which selects the next device.
func ValidateDeviceID(deviceID string) error {
	if len(deviceID) > 256 {
		return fmt.Errorf("device ID is too long (max 256 characters)")
	}
	if !utf8.ValidString(deviceID) {
		return fmt.Errorf("device ID contains invalid characters")
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
