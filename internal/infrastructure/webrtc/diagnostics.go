package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/pkg/tracing"

	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	DefaultDiagnosticsTimeout = 10 * time.Second

	diagnosticsSTUN = "stun"
	diagnosticsTURN = "turn"
)

// CandidateProbe gathers ICE candidates on a throwaway connection.
type CandidateProbe interface {
	// Gather starts gathering. onCandidate receives raw candidate lines,
	// onComplete fires once gathering finished.
	Gather(onCandidate func(raw string), onComplete func()) error
	Close() error
}

// ProbeFactory opens a CandidateProbe for one diagnostics run.
type ProbeFactory func(cfg domain.ConnectionConfig) (CandidateProbe, error)

// Diagnostics tests reachability of STUN and TURN servers. Results are
// reported in domain.ConnectivityResult; no method returns an error.
type Diagnostics struct {
	newProbe ProbeFactory
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

func NewDiagnostics(logger *zap.SugaredLogger) *Diagnostics {
	return NewDiagnosticsWithProbe(pionProbeFactory, DefaultDiagnosticsTimeout, logger)
}

// NewDiagnosticsWithProbe uses the pion probe when factory is nil.
func NewDiagnosticsWithProbe(factory ProbeFactory, timeout time.Duration, logger *zap.SugaredLogger) *Diagnostics {
	if factory == nil {
		factory = pionProbeFactory
	}
	if timeout <= 0 {
		timeout = DefaultDiagnosticsTimeout
	}
	return &Diagnostics{newProbe: factory, timeout: timeout, logger: logger}
}

// TestStunConnectivity succeeds on the first server-reflexive candidate.
func (d *Diagnostics) TestStunConnectivity(ctx context.Context, url string) domain.ConnectivityResult {
	cfg := domain.ConnectionConfig{
		ICEServers:         []domain.ICEServer{{URLs: []string{url}}},
		ICETransportPolicy: domain.ICETransportPolicyAll,
	}
	return d.run(ctx, diagnosticsSTUN, url, cfg, ice.CandidateTypeServerReflexive)
}

// TestTurnConnectivity gathers relay candidates only and succeeds on the first.
func (d *Diagnostics) TestTurnConnectivity(ctx context.Context, url, username, credential string) domain.ConnectivityResult {
	cfg := domain.ConnectionConfig{
		ICEServers:         []domain.ICEServer{{URLs: []string{url}, Username: username, Credential: credential}},
		ICETransportPolicy: domain.ICETransportPolicyRelay,
	}
	return d.run(ctx, diagnosticsTURN, url, cfg, ice.CandidateTypeRelay)
}

func (d *Diagnostics) run(ctx context.Context, kind, url string, cfg domain.ConnectionConfig, want ice.CandidateType) domain.ConnectivityResult {
	ctx, span := tracing.TraceDiagnostics(ctx, kind, url)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()

	fail := func(format string, args ...interface{}) domain.ConnectivityResult {
		msg := fmt.Sprintf(format, args...)
		d.logger.Infow("Connectivity test failed", "kind", kind, "url", url, "error", msg)
		tracing.AddSpanAttributes(ctx, tracing.ErrorKey.String(msg))
		return domain.ConnectivityResult{Success: false, Error: msg}
	}

	probe, err := d.newProbe(cfg)
	if err != nil {
		return fail("failed to create probe: %v", err)
	}
	defer func() {
		if err := probe.Close(); err != nil {
			d.logger.Debugw("Failed to close probe", "kind", kind, "error", err)
		}
	}()

	found := make(chan domain.ConnectivityResult, 1)
	done := make(chan struct{})
	var doneOnce sync.Once

	onCandidate := func(raw string) {
		candidate, err := ice.UnmarshalCandidate(strings.TrimPrefix(raw, "candidate:"))
		if err != nil {
			d.logger.Debugw("Ignoring unparsable candidate", "candidate", raw, "error", err)
			return
		}
		if candidate.Type() != want {
			return
		}
		result := domain.ConnectivityResult{
			Success:       true,
			RTT:           float64(time.Since(start).Microseconds()) / 1000,
			CandidateType: candidate.Type().String(),
			PublicIP:      candidate.Address(),
		}
		select {
		case found <- result:
		default:
		}
	}
	onComplete := func() { doneOnce.Do(func() { close(done) }) }

	if err := probe.Gather(onCandidate, onComplete); err != nil {
		return fail("failed to gather candidates: %v", err)
	}

	select {
	case result := <-found:
		return d.succeeded(ctx, kind, url, result)
	case <-done:
		select {
		case result := <-found:
			return d.succeeded(ctx, kind, url, result)
		default:
		}
		return fail("gathering completed without a %s candidate", want)
	case <-ctx.Done():
		return fail("timed out after %s", d.timeout)
	}
}

func (d *Diagnostics) succeeded(ctx context.Context, kind, url string, result domain.ConnectivityResult) domain.ConnectivityResult {
	tracing.AddSpanAttributes(ctx, tracing.CandidateKey.String(result.CandidateType))
	d.logger.Infow("Connectivity test succeeded",
		"kind", kind,
		"url", url,
		"rtt_ms", result.RTT,
		"public_ip", result.PublicIP,
	)
	return result
}

// pionProbe forces gathering by negotiating a data channel locally.
type pionProbe struct {
	pc *webrtc.PeerConnection
}

func pionProbeFactory(cfg domain.ConnectionConfig) (CandidateProbe, error) {
	pc, err := webrtc.NewPeerConnection(pionConfiguration(cfg))
	if err != nil {
		return nil, err
	}
	return &pionProbe{pc: pc}, nil
}

func (p *pionProbe) Gather(onCandidate func(raw string), onComplete func()) error {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			onComplete()
			return
		}
		onCandidate(c.ToJSON().Candidate)
	})
	if _, err := p.pc.CreateDataChannel("diagnostics", nil); err != nil {
		return err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	return p.pc.SetLocalDescription(offer)
}

func (p *pionProbe) Close() error {
	return p.pc.Close()
}
