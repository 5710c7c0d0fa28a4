package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventICECandidateGathered, PeerID: "bob"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"ice_candidate"`)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, EventICECandidateGathered, decoded.Type)
	assert.Equal(t, PeerID("bob"), decoded.PeerID)

	err = json.Unmarshal([]byte(`{"type":"bogus"}`), &decoded)
	assert.Error(t, err)
}

func TestParseSessionDescriptor(t *testing.T) {
	desc, err := ParseSessionDescriptor([]byte(`{"type":"offer","sdp":"v=0"}`))
	require.NoError(t, err)
	assert.Equal(t, SDPTypeOffer, desc.Type)

	_, err = ParseSessionDescriptor([]byte(`{"type":"pranswer","sdp":"v=0"}`))
	assert.ErrorIs(t, err, ErrInvalidSessionDescription)

	_, err = ParseSessionDescriptor([]byte(`{"type":"answer","sdp":""}`))
	assert.ErrorIs(t, err, ErrInvalidSessionDescription)

	_, err = ParseSessionDescriptor([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidSessionDescription)
}

func TestParseIceCandidate(t *testing.T) {
	c, err := ParseIceCandidate([]byte(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`))
	require.NoError(t, err)
	require.NotNil(t, c.SDPMid)
	assert.Equal(t, "0", *c.SDPMid)
	require.NotNil(t, c.SDPMLineIndex)
	assert.Equal(t, uint16(0), *c.SDPMLineIndex)

	_, err = ParseIceCandidate([]byte(`[`))
	assert.Error(t, err)
}

func TestParseQualityTier(t *testing.T) {
	for _, s := range []string{"auto", "720p", "1080p", "4k"} {
		tier, err := ParseQualityTier(s)
		require.NoError(t, err)
		assert.Equal(t, QualityTier(s), tier)
	}

	_, err := ParseQualityTier("8k")
	assert.ErrorIs(t, err, ErrUnknownQualityTier)
}

func TestICEServer_Credentials(t *testing.T) {
	stun := ICEServer{URLs: []string{"stun:stun.example.com:3478"}}
	assert.False(t, stun.NeedsCredentials())

	turn := ICEServer{URLs: []string{"stun:a:1", "TURN:turn.example.com:3478"}}
	assert.True(t, turn.NeedsCredentials())
	assert.False(t, turn.HasCredentials())
	assert.Equal(t, "stun:a:1,TURN:turn.example.com:3478", turn.Key())

	turn.Username, turn.Credential = "u", "p"
	assert.True(t, turn.HasCredentials())
}
