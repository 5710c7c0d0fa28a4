package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"
	httphandlers "rillcall/internal/handlers/http"
	"rillcall/internal/infrastructure/credentials"
	"rillcall/internal/infrastructure/distributed"
	"rillcall/internal/infrastructure/e2ee"
	"rillcall/internal/infrastructure/media"
	"rillcall/internal/infrastructure/middleware"
	"rillcall/internal/infrastructure/monitoring"
	eventsignal "rillcall/internal/infrastructure/signal"
	webrtcinfra "rillcall/internal/infrastructure/webrtc"
	"rillcall/pkg/circuitbreaker"
	"rillcall/pkg/config"
	"rillcall/pkg/logger"
	"rillcall/pkg/retry"
	"rillcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/rillcall/config.yaml",
	"config.yaml",
}

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()

	contextLogger := logger.NewContextLogger(zapLogger)
	log := zapLogger.Sugar()
	log.Infow("Configuration loaded", "source", source)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "rillcall-callnode",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	health := monitoring.NewHealthChecker()

	var redisClient *redis.Client
	var publishers []ports.ParticipantPublisher
	if cfg.Redis.Enabled {
		redisClient, err = distributed.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		health.AddRedisCheck(redisClient, 2*time.Second)

		instanceID := uuid.NewString()
		bus := distributed.NewEventBus(redisClient, instanceID, log)
		publishers = append(publishers, distributed.NewPresence(redisClient, cfg.Call.RoomIdleTTL), bus)
		go func() {
			err := bus.Subscribe(ctx, func(ev *distributed.Event) error {
				log.Debugw("Participant event from another node",
					"type", ev.Type,
					"instance", ev.InstanceID,
					"room_id", ev.RoomID,
					"peer_id", ev.PeerID,
				)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Errorw("Event bus subscription ended", "error", err)
			}
		}()
		log.Infow("Redis enabled", "address", cfg.Redis.Address, "instance", instanceID)
	}

	provider, closeCache := credentialProvider(cfg, redisClient, log)
	defer closeCache()

	managerConfig, err := managerConfigFrom(cfg)
	if err != nil {
		log.Fatalw("invalid call configuration", "error", err)
	}

	pionConfig := webrtcinfra.PionConfig{
		PortMin:         cfg.WebRTC.PortRange.Min,
		PortMax:         cfg.WebRTC.PortRange.Max,
		NAT1To1IPs:      cfg.WebRTC.NAT1To1IPs,
		IncludeLoopback: cfg.WebRTC.IncludeLoopback,
	}
	if managerConfig.AudioMode != domain.AudioModePCM {
		pionConfig.Opus = &managerConfig.Opus
	}
	factory, err := webrtcinfra.NewPionFactory(pionConfig, log)
	if err != nil {
		log.Fatalw("failed to create peer connection factory", "error", err)
	}

	deps := webrtcinfra.Dependencies{
		Factory:     factory,
		Devices:     media.NewDevices(media.DefaultDevices(), nil),
		Credentials: provider,
		Metrics:     collector,
		Logger:      log,
	}
	if cfg.Call.MediaE2EE {
		deps.NewFrameCryptor = func() ports.FrameCryptor {
			return e2ee.NewFrameCryptor(log, collector)
		}
	}

	rooms := services.NewRoomService(
		func(room domain.RoomID) ports.Mesh {
			roomDeps := deps
			roomDeps.Logger = log.With("room_id", room)
			return webrtcinfra.NewMeshManager(managerConfig, roomDeps)
		},
		publishers,
		collector,
		cfg.Call.RoomIdleTTL,
		cfg.Call.MaxPeers,
		log,
	)
	go rooms.Run(ctx)

	var cipher ports.SignalCipher
	if cfg.Call.SignalKey != "" {
		key, err := hex.DecodeString(cfg.Call.SignalKey)
		if err != nil {
			log.Fatalw("call.signal_key is not valid hex", "error", err)
		}
		c, err := e2ee.NewStaticKeySignalCipher(key, 0)
		if err != nil {
			log.Fatalw("failed to create signal cipher", "error", err)
		}
		cipher = c
	}

	streamConfig := eventsignal.DefaultConfig()
	if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
		streamConfig.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	streamConfig.AllowedOrigins = allowedOrigins(cfg.Auth.AllowedOrigins)
	events := eventsignal.NewEventStream(streamConfig, cipher, log)

	diagnostics := webrtcinfra.NewDiagnosticsWithProbe(nil, cfg.WebRTC.DiagnosticsTimeout, log)
	callHandler := httphandlers.NewCallHandler(rooms, diagnostics, events)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLogger(contextLogger))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	guards := httphandlers.RouteGuards{
		LimitStreams: middleware.NewWebSocketLimitMiddleware(cfg),
	}
	if cfg.Auth.Enabled {
		authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
		guards.Authenticate = middleware.AuthMiddleware(authService)
		guards.AuthorizeRoom = middleware.RoomPermissionMiddleware()
	} else {
		log.Warn("Authentication disabled; every client may join any room")
	}
	callHandler.SetupRoutes(router, guards)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    monitoring.StatusHealthy,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"rooms":     len(rooms.Rooms()),
			"streams":   events.ActiveConnections(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		checkCtx, checkCancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer checkCancel()

		status := health.CheckAll(checkCtx)
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("Metrics listener failed", "error", err)
			}
		}()
		log.Infow("Prometheus metrics enabled", "port", cfg.Monitoring.PrometheusPort)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting RillCall node on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down RillCall node...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	cancel()
	if err := rooms.Close(); err != nil {
		log.Errorw("Error closing rooms", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Errorw("Error closing redis client", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("RillCall node stopped")
}

// loadConfig reads path when given, otherwise the first default location
// that loads cleanly. Without any file the defaults apply.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	var lastErr error
	for _, candidate := range defaultConfigPaths {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		cfg, err := config.Load(candidate)
		if err == nil {
			return cfg, candidate, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, "", lastErr
	}

	cfg, err := config.Load("")
	return cfg, "defaults", err
}

func credentialProvider(cfg *config.Config, client *redis.Client, log *zap.SugaredLogger) (ports.CredentialProvider, func()) {
	if cfg.WebRTC.TURN.CredentialEndpoint == "" {
		return nil, func() {}
	}

	var cache credentials.Cache
	closeCache := func() {}
	if client != nil {
		cache = credentials.NewRedisCache(client)
	} else {
		memory := credentials.NewMemoryCache(cfg.WebRTC.TURN.CredentialTTL)
		cache = memory
		closeCache = memory.Close
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = cfg.Reliability.Retry.MaxAttempts
	retryConfig.InitialDelay = cfg.Reliability.Retry.InitialDelay
	retryConfig.MaxDelay = cfg.Reliability.Retry.MaxDelay

	breakerConfig := circuitbreaker.DefaultConfig()
	breakerConfig.FailureThreshold = cfg.Reliability.CircuitBreaker.MaxFailures
	breakerConfig.Timeout = cfg.Reliability.CircuitBreaker.ResetTimeout

	provider := credentials.NewHTTPProvider(credentials.Config{
		Endpoint:       cfg.WebRTC.TURN.CredentialEndpoint,
		APIKey:         cfg.WebRTC.TURN.CredentialAPIKey,
		RequestTimeout: cfg.WebRTC.TURN.RequestTimeout,
		DefaultTTL:     cfg.WebRTC.TURN.CredentialTTL,
		Retry:          retryConfig,
		Breaker:        breakerConfig,
	}, cache, log)
	return provider, closeCache
}

func managerConfigFrom(cfg *config.Config) (webrtcinfra.ManagerConfig, error) {
	quality, err := domain.ParseQualityTier(cfg.Call.DefaultQuality)
	if err != nil {
		return webrtcinfra.ManagerConfig{}, err
	}

	out := webrtcinfra.DefaultManagerConfig()
	out.ICEServers = out.ICEServers[:0]
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, domain.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	out.TURNSecret = cfg.WebRTC.TURN.SharedSecret
	out.TURNCredentialTTL = cfg.WebRTC.TURN.CredentialTTL
	out.DefaultQuality = quality
	out.AudioMode = domain.AudioMode(cfg.Call.AudioMode)
	out.Opus = domain.OpusConfig{
		BitrateKbps: cfg.Call.Opus.BitrateKbps,
		Application: domain.OpusApplication(cfg.Call.Opus.Application),
		FEC:         cfg.Call.Opus.FEC,
		DTX:         cfg.Call.Opus.DTX,
	}
	out.StatsInterval = cfg.Call.StatsInterval
	return out, nil
}

// allowedOrigins treats a lone "*" as no restriction.
func allowedOrigins(origins []string) []string {
	if len(origins) == 1 && origins[0] == "*" {
		return nil
	}
	return origins
}
