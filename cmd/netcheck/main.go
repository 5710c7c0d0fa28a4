// Command netcheck probes STUN and TURN servers concurrently and prints the
// results as JSON. It exits non-zero when any probe fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/services"
	webrtcinfra "rillcall/internal/infrastructure/webrtc"
	"rillcall/pkg/config"
	"rillcall/pkg/logger"
	"rillcall/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxParallelProbes = 4

type diagnostics interface {
	TestStunConnectivity(ctx context.Context, url string) domain.ConnectivityResult
	TestTurnConnectivity(ctx context.Context, url, username, credential string) domain.ConnectivityResult
}

type probe struct {
	URL    string                    `json:"url"`
	Kind   string                    `json:"kind"`
	Result domain.ConnectivityResult `json:"result"`
}

type report struct {
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checkedAt"`
	Probes    []probe   `json:"probes"`
}

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func main() {
	var stunURLs, turnURLs listFlag
	flag.Var(&stunURLs, "stun", "STUN URL to probe (repeatable or comma separated)")
	flag.Var(&turnURLs, "turn", "TURN URL to probe (repeatable or comma separated)")
	username := flag.String("username", "", "TURN username")
	credential := flag.String("credential", "", "TURN credential")
	secret := flag.String("secret", "", "TURN REST shared secret used when no credentials are given")
	configPath := flag.String("config", "", "probe the ICE servers of this call node configuration")
	timeout := flag.Duration("timeout", 10*time.Second, "per-probe gathering timeout")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	zapLogger, err := logger.New(logger.Options{Level: *level, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	servers, err := collectServers(stunURLs, turnURLs, *username, *credential)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(2)
		}
		for _, s := range cfg.WebRTC.ICEServers {
			servers = append(servers, domain.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
		}
		if *secret == "" {
			*secret = cfg.WebRTC.TURN.SharedSecret
		}
		if !flagSet("timeout") {
			*timeout = cfg.WebRTC.DiagnosticsTimeout
		}
	}
	if len(servers) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to probe: pass -stun, -turn or -config")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	diag := webrtcinfra.NewDiagnosticsWithProbe(nil, *timeout, log)
	creds := services.NewICECredentialService(nil, webrtcinfra.NopMetrics{}, 0, log)

	rep, err := run(ctx, diag, creds, servers, *secret, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netcheck aborted: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
		os.Exit(1)
	}
	if !rep.OK {
		os.Exit(1)
	}
}

func collectServers(stunURLs, turnURLs []string, username, credential string) ([]domain.ICEServer, error) {
	var servers []domain.ICEServer
	for _, u := range stunURLs {
		if err := validation.ValidateICEURL(u); err != nil {
			return nil, err
		}
		servers = append(servers, domain.ICEServer{URLs: []string{u}})
	}
	for _, u := range turnURLs {
		if err := validation.ValidateICEURL(u); err != nil {
			return nil, err
		}
		servers = append(servers, domain.ICEServer{URLs: []string{u}, Username: username, Credential: credential})
	}
	return servers, nil
}

// run probes every URL of every server. TURN servers whose credentials
// cannot be resolved are reported as failed without probing.
func run(ctx context.Context, diag diagnostics, creds *services.ICECredentialService, servers []domain.ICEServer, secret string, log *zap.SugaredLogger) (report, error) {
	type job struct {
		url    string
		server domain.ICEServer
	}
	var jobs []job
	for _, s := range servers {
		for _, u := range s.URLs {
			jobs = append(jobs, job{url: u, server: s})
		}
	}

	probes := make([]probe, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)

	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if isTURN(j.url) {
				probes[i] = probe{URL: j.url, Kind: "turn"}
				resolved := creds.Resolve(gctx, []domain.ICEServer{j.server}, secret)
				if len(resolved) == 0 {
					probes[i].Result = domain.ConnectivityResult{Error: "no TURN credentials available"}
					return nil
				}
				probes[i].Result = diag.TestTurnConnectivity(gctx, j.url, resolved[0].Username, resolved[0].Credential)
			} else {
				probes[i] = probe{URL: j.url, Kind: "stun"}
				probes[i].Result = diag.TestStunConnectivity(gctx, j.url)
			}
			log.Debugw("Probe finished", "url", j.url, "success", probes[i].Result.Success)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return report{}, err
	}

	rep := report{OK: true, CheckedAt: time.Now().UTC(), Probes: probes}
	for _, p := range probes {
		if !p.Result.Success {
			rep.OK = false
		}
	}
	return rep, nil
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func isTURN(url string) bool {
	return strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:")
}
