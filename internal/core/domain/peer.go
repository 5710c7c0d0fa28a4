package domain

type PeerID string
type CallID string
type RoomID string

// Topology names the manager that owns a connection.
type Topology string

const (
	TopologySingle Topology = "single"
	TopologyMesh   Topology = "mesh"
)

type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)
