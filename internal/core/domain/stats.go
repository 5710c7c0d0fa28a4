package domain

import "time"

// CallStatsSnapshot is recomputed on every stats tick. Nil fields were not
// present in the underlying report.
type CallStatsSnapshot struct {
	Resolution                   *string  `json:"resolution"`
	FrameRate                    *float64 `json:"frameRate"`
	BitrateKbps                  *float64 `json:"bitrate"`
	PacketLossPercent            *float64 `json:"packetLoss"`
	JitterMs                     *float64 `json:"jitter"`
	RoundTripTimeMs              *float64 `json:"roundTripTime"`
	Codec                        *string  `json:"codec"`
	LocalCandidateType           *string  `json:"localCandidateType"`
	RemoteCandidateType          *string  `json:"remoteCandidateType"`
	AvailableOutgoingBitrateKbps *float64 `json:"availableOutgoingBitrate"`
	AudioLevel                   *float64 `json:"audioLevel"`
	FramesDecoded                *uint64  `json:"framesDecoded"`
	FramesDropped                *uint64  `json:"framesDropped"`
	AudioBitrateKbps             *float64 `json:"audioBitrate"`
}

// StatsReport is a transport-neutral view of a connection's statistics.
type StatsReport struct {
	Timestamp      time.Time
	Outbound       []OutboundRTPStats
	Inbound        []InboundRTPStats
	RemoteInbound  []RemoteInboundRTPStats
	CandidatePairs []CandidatePairStats
	Candidates     map[string]CandidateStats
	Codecs         map[string]CodecStats
}

type OutboundRTPStats struct {
	Kind            MediaKind
	CodecID         string
	BytesSent       uint64
	FrameWidth      uint32
	FrameHeight     uint32
	FramesPerSecond float64
}

type InboundRTPStats struct {
	Kind            MediaKind
	CodecID         string
	PacketsReceived uint64
	PacketsLost     int64
	BytesReceived   uint64
	Jitter          float64 // seconds
	FrameWidth      uint32
	FrameHeight     uint32
	FramesPerSecond float64
	FramesDecoded   uint64
	FramesDropped   uint64
	AudioLevel      *float64
}

type RemoteInboundRTPStats struct {
	Kind          MediaKind
	RoundTripTime float64 // seconds
	FractionLost  float64
}

type CandidatePairStats struct {
	LocalCandidateID         string
	RemoteCandidateID        string
	Nominated                bool
	AvailableOutgoingBitrate float64 // bps
	CurrentRoundTripTime     float64 // seconds
}

type CandidateStats struct {
	ID            string
	CandidateType string
	Address       string
}

type CodecStats struct {
	ID       string
	MimeType string
}
