package webrtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"rillcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	hostCandidate  = "candidate:1 1 udp 2130706431 10.0.0.2 54321 typ host"
	srflxCandidate = "candidate:842163049 1 udp 1677729535 203.0.113.7 54321 typ srflx raddr 10.0.0.2 rport 54321"
	relayCandidate = "candidate:3 1 udp 16777215 198.51.100.9 49152 typ relay raddr 203.0.113.7 rport 54321"
)

type scriptedProbe struct {
	candidates []string
	complete   bool
	gatherErr  error
	closed     bool
}

func (p *scriptedProbe) Gather(onCandidate func(string), onComplete func()) error {
	if p.gatherErr != nil {
		return p.gatherErr
	}
	go func() {
		for _, c := range p.candidates {
			onCandidate(c)
		}
		if p.complete {
			onComplete()
		}
	}()
	return nil
}

func (p *scriptedProbe) Close() error {
	p.closed = true
	return nil
}

func newScriptedDiagnostics(t *testing.T, probe *scriptedProbe, timeout time.Duration) (*Diagnostics, *domain.ConnectionConfig) {
	var seen domain.ConnectionConfig
	d := NewDiagnosticsWithProbe(func(cfg domain.ConnectionConfig) (CandidateProbe, error) {
		seen = cfg
		return probe, nil
	}, timeout, zaptest.NewLogger(t).Sugar())
	return d, &seen
}

func TestDiagnostics_StunReflexiveCandidate(t *testing.T) {
	probe := &scriptedProbe{candidates: []string{hostCandidate, srflxCandidate}, complete: true}
	d, cfg := newScriptedDiagnostics(t, probe, time.Second)

	result := d.TestStunConnectivity(context.Background(), "stun:stun.example.org:3478")

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "srflx", result.CandidateType)
	assert.Equal(t, "203.0.113.7", result.PublicIP)
	assert.GreaterOrEqual(t, result.RTT, 0.0)
	assert.Equal(t, domain.ICETransportPolicyAll, cfg.ICETransportPolicy)
	assert.True(t, probe.closed)
}

func TestDiagnostics_TurnUsesRelayPolicy(t *testing.T) {
	probe := &scriptedProbe{candidates: []string{relayCandidate}, complete: true}
	d, cfg := newScriptedDiagnostics(t, probe, time.Second)

	result := d.TestTurnConnectivity(context.Background(), "turn:turn.example.org:3478", "user", "pass")

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "relay", result.CandidateType)
	assert.Equal(t, "198.51.100.9", result.PublicIP)
	assert.Equal(t, domain.ICETransportPolicyRelay, cfg.ICETransportPolicy)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, "user", cfg.ICEServers[0].Username)
	assert.Equal(t, "pass", cfg.ICEServers[0].Credential)
}

func TestDiagnostics_GatheringCompleteWithoutMatch(t *testing.T) {
	probe := &scriptedProbe{candidates: []string{hostCandidate, "garbage"}, complete: true}
	d, _ := newScriptedDiagnostics(t, probe, time.Second)

	result := d.TestStunConnectivity(context.Background(), "stun:stun.example.org:3478")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "srflx")
	assert.True(t, probe.closed)
}

func TestDiagnostics_Timeout(t *testing.T) {
	probe := &scriptedProbe{candidates: []string{hostCandidate}}
	d, _ := newScriptedDiagnostics(t, probe, 50*time.Millisecond)

	start := time.Now()
	result := d.TestTurnConnectivity(context.Background(), "turn:turn.example.org:3478", "u", "p")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiagnostics_ProbeErrors(t *testing.T) {
	d := NewDiagnosticsWithProbe(func(domain.ConnectionConfig) (CandidateProbe, error) {
		return nil, errors.New("bad url")
	}, time.Second, zaptest.NewLogger(t).Sugar())

	result := d.TestStunConnectivity(context.Background(), "stun:")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "bad url")

	probe := &scriptedProbe{gatherErr: errors.New("no route")}
	d, _ = newScriptedDiagnostics(t, probe, time.Second)
	result = d.TestStunConnectivity(context.Background(), "stun:stun.example.org")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no route")
	assert.True(t, probe.closed)
}
