package credentials

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/pkg/circuitbreaker"
	"rillcall/pkg/retry"
	"rillcall/pkg/tracing"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// turnRESTResponse follows the TURN REST API response body.
type turnRESTResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int64    `json:"ttl"`
	URIs     []string `json:"uris"`
}

type Config struct {
	Endpoint       string
	APIKey         string
	RequestTimeout time.Duration
	DefaultTTL     time.Duration
	Retry          retry.Config
	Breaker        circuitbreaker.Config
}

// HTTPProvider fetches TURN credentials from a TURN REST endpoint.
type HTTPProvider struct {
	client  *resty.Client
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	cache   Cache
	logger  *zap.SugaredLogger
}

func NewHTTPProvider(cfg Config, cache Cache, logger *zap.SugaredLogger) *HTTPProvider {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json")

	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("TURN credential endpoint breaker changed state",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &HTTPProvider{
		client:  client,
		cfg:     cfg,
		breaker: breaker,
		cache:   cache,
		logger:  logger,
	}
}

// Credentials implements ports.CredentialProvider.
func (p *HTTPProvider) Credentials(ctx context.Context, server domain.ICEServer) (string, string, error) {
	key := server.Key()

	if p.cache != nil {
		cred, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			p.logger.Warnw("Credential cache read failed", "server", key, "error", err)
		} else if ok {
			return cred.Username, cred.Credential, nil
		}
	}

	ctx, span := tracing.StartSpan(ctx, "credentials.fetch")
	defer span.End()
	tracing.AddSpanAttributes(ctx, attribute.String("turn.server", key))

	resp, err := circuitbreaker.Call(ctx, p.breaker, func(ctx context.Context) (turnRESTResponse, error) {
		return retry.DoWithResult(ctx, p.cfg.Retry, func(ctx context.Context) (turnRESTResponse, error) {
			return p.fetch(ctx, server)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", "", fmt.Errorf("%w: %w", domain.ErrCredentialsUnavailable, err)
	}

	ttl := p.cfg.DefaultTTL
	if resp.TTL > 0 {
		// expire ahead of the server so a cached pair is never stale on use
		ttl = time.Duration(resp.TTL) * time.Second * 9 / 10
	}
	if p.cache != nil {
		cred := Credential{Username: resp.Username, Credential: resp.Password}
		if err := p.cache.Set(ctx, key, cred, ttl); err != nil {
			p.logger.Warnw("Credential cache write failed", "server", key, "error", err)
		}
	}

	p.logger.Debugw("Fetched TURN credentials", "server", key, "ttl", ttl)
	return resp.Username, resp.Password, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, server domain.ICEServer) (turnRESTResponse, error) {
	var body turnRESTResponse
	req := p.client.R().
		SetContext(ctx).
		SetQueryParam("service", "turn").
		SetResult(&body).
		ForceContentType("application/json")
	if p.cfg.APIKey != "" {
		req.SetQueryParam("key", p.cfg.APIKey)
	}

	resp, err := req.Get(p.cfg.Endpoint)
	if err != nil {
		return body, fmt.Errorf("request failed: %w", err)
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusTooManyRequests || status >= 500:
		return body, fmt.Errorf("endpoint returned %d", status)
	case resp.IsError():
		return body, retry.Permanent(fmt.Errorf("endpoint returned %d", status))
	}

	if body.Username == "" || body.Password == "" {
		return body, retry.Permanent(fmt.Errorf("endpoint returned empty credentials for %s", server.Key()))
	}
	return body, nil
}

// BreakerState exposes the endpoint breaker for health reporting.
func (p *HTTPProvider) BreakerState() circuitbreaker.State {
	return p.breaker.State()
}
