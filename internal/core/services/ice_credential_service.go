package services

import (
	"context"
	"sync"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/pion/turn/v2"
	"go.uber.org/zap"
)

const defaultTURNCredentialTTL = 24 * time.Hour

// ICECredentialService fills in TURN credentials for a call's ICE servers.
// Priority: credentials already on the entry, then time-limited credentials
// derived from a TURN REST shared secret, then the external provider. Results
// from the provider are cached until ResetCache.
type ICECredentialService struct {
	provider ports.CredentialProvider
	metrics  ports.CallMetrics
	ttl      time.Duration
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	cache map[string]domain.ICEServer
}

func NewICECredentialService(
	provider ports.CredentialProvider,
	metrics ports.CallMetrics,
	ttl time.Duration,
	logger *zap.SugaredLogger,
) *ICECredentialService {
	if ttl <= 0 {
		ttl = defaultTURNCredentialTTL
	}
	return &ICECredentialService{
		provider: provider,
		metrics:  metrics,
		ttl:      ttl,
		logger:   logger,
		cache:    make(map[string]domain.ICEServer),
	}
}

// Resolve returns the servers usable for a connection. TURN entries whose
// credentials cannot be resolved are dropped.
func (s *ICECredentialService) Resolve(ctx context.Context, servers []domain.ICEServer, sharedSecret string) []domain.ICEServer {
	resolved := make([]domain.ICEServer, 0, len(servers))
	for _, server := range servers {
		if !server.NeedsCredentials() || server.HasCredentials() {
			resolved = append(resolved, server)
			continue
		}

		if sharedSecret != "" {
			username, password, err := turn.GenerateLongTermCredentials(sharedSecret, s.ttl)
			if err == nil {
				server.Username, server.Credential = username, password
				resolved = append(resolved, server)
				continue
			}
			s.logger.Warnw("Failed to derive TURN credentials from shared secret",
				"urls", server.URLs,
				"error", err,
			)
		}

		if cached, ok := s.cached(server.Key()); ok {
			resolved = append(resolved, cached)
			continue
		}

		if s.provider != nil {
			username, credential, err := s.provider.Credentials(ctx, server)
			if err == nil && username != "" && credential != "" {
				server.Username, server.Credential = username, credential
				s.store(server)
				resolved = append(resolved, server)
				continue
			}
			s.logger.Warnw("TURN credential provider failed",
				"urls", server.URLs,
				"error", err,
			)
		}

		s.logger.Warnw("Dropping TURN server without credentials", "urls", server.URLs)
		if s.metrics != nil {
			s.metrics.ServerDropped("missing_credentials")
		}
	}
	return resolved
}

// ResetCache forgets provider-resolved credentials, typically at call end.
func (s *ICECredentialService) ResetCache() {
	s.mu.Lock()
	s.cache = make(map[string]domain.ICEServer)
	s.mu.Unlock()
}

func (s *ICECredentialService) cached(key string) (domain.ICEServer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, ok := s.cache[key]
	return server, ok
}

func (s *ICECredentialService) store(server domain.ICEServer) {
	s.mu.Lock()
	s.cache[server.Key()] = server
	s.mu.Unlock()
}
