package domain

import (
	"fmt"
	"time"
)

// EventType enumerates what a call manager reports to subscribers.
type EventType int

const (
	EventRemoteStreamAdded EventType = iota
	EventRemoteStreamRemoved
	EventICECandidateGathered
	EventConnectionStateChanged
	EventStatsUpdated
)

func (t EventType) String() string {
	switch t {
	case EventRemoteStreamAdded:
		return "remote_stream_added"
	case EventRemoteStreamRemoved:
		return "remote_stream_removed"
	case EventICECandidateGathered:
		return "ice_candidate"
	case EventConnectionStateChanged:
		return "connection_state_changed"
	case EventStatsUpdated:
		return "stats_updated"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(text []byte) error {
	for candidate := EventRemoteStreamAdded; candidate <= EventStatsUpdated; candidate++ {
		if candidate.String() == string(text) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", text)
}

// Event carries exactly one payload matching its Type.
type Event struct {
	Type      EventType               `json:"type"`
	PeerID    PeerID                  `json:"peerId,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Stream    *RemoteStream           `json:"stream,omitempty"`
	Candidate *IceCandidateDescriptor `json:"candidate,omitempty"`
	State     ConnectionState         `json:"state,omitempty"`
	Stats     *CallStatsSnapshot      `json:"stats,omitempty"`
}
