package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"grcgateway/internal/auth"
	"grcgateway/internal/circuitbreaker"
	"grcgateway/internal/config"
	"grcgateway/internal/health"
	"grcgateway/internal/middleware/cors"
	"grcgateway/internal/middleware/ratelimit"
	"grcgateway/internal/middleware/recovery"
	"grcgateway/internal/proxy"
	"grcgateway/internal/registry"
	"grcgateway/internal/telemetry"
	"grcgateway/pkg/metrics"
)

// Version is stamped at build time.
var Version = "dev"

// Server wires the gateway components together: registry, health
// monitor, circuit breakers, auth propagator, proxy router, and the
// HTTP listener in front of them.
type Server struct {
	config    *config.Config
	registry  *registry.Registry
	monitor   *health.Monitor
	breakers  *circuitbreaker.Group
	limiter   ratelimit.Limiter
	telemetry *telemetry.Telemetry
	watcher   *config.Watcher
	httpSrv   *http.Server
	logger    *slog.Logger
}

// NewServer builds a fully wired gateway server from configuration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	gw := &cfg.Gateway

	reg, err := registry.New(gw.Descriptors(), gw.Routes(), logger)
	if err != nil {
		return nil, fmt.Errorf("building service registry: %w", err)
	}

	m := metrics.New()

	breakers := circuitbreaker.NewGroup(breakerConfig(&gw.CircuitBreaker), breakerOverrides(gw), logger)
	breakers.OnStateChange(func(service string, from, to circuitbreaker.State) {
		m.CircuitState.WithLabelValues(service).Set(float64(to))
		m.CircuitTransitions.WithLabelValues(service, to.String()).Inc()
	})

	monitor := health.NewMonitor(reg, gw.HealthInterval(), gw.ProbeTimeout(), logger)
	monitor.OnProbe(func(service string, healthy bool, elapsed time.Duration) {
		value := 0.0
		if healthy {
			value = 1.0
		}
		m.HealthCheckStatus.WithLabelValues(service).Set(value)
		m.HealthCheckDuration.WithLabelValues(service).Observe(elapsed.Seconds())
	})

	propagator, err := auth.NewPropagator(&gw.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("building auth propagator: %w", err)
	}

	tel, err := telemetry.New(&gw.Telemetry, "grc-gateway", Version)
	if err != nil {
		return nil, fmt.Errorf("building telemetry: %w", err)
	}

	router := proxy.NewRouter(reg, breakers, monitor, propagator, tel, m, logger)

	var limiter ratelimit.Limiter
	if gw.RateLimit.Enabled {
		limiter = newLimiter(&gw.RateLimit, logger)
		router.WithLimiter(limiter)
	}

	handler := buildHandler(router, &gw.CORS, logger)

	addr := net.JoinHostPort(gw.Server.Host, strconv.Itoa(gw.Server.Port))
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(gw.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(gw.Server.WriteTimeout) * time.Second,
	}

	return &Server{
		config:    cfg,
		registry:  reg,
		monitor:   monitor,
		breakers:  breakers,
		limiter:   limiter,
		telemetry: tel,
		httpSrv:   httpSrv,
		logger:    logger.With("component", "server"),
	}, nil
}

// buildHandler stacks the edge middleware in front of the router.
// Recovery is outermost so a panic anywhere in the chain still
// produces a response.
func buildHandler(router *proxy.Router, corsCfg *config.CORS, logger *slog.Logger) http.Handler {
	handler := router.Handler()

	if len(corsCfg.AllowedOrigins) > 0 {
		handler = cors.New(cors.Config{
			AllowedOrigins:   corsCfg.AllowedOrigins,
			AllowedMethods:   corsCfg.AllowedMethods,
			AllowedHeaders:   corsCfg.AllowedHeaders,
			AllowCredentials: corsCfg.AllowCredentials,
			MaxAge:           corsCfg.MaxAge,
		}).Handler(handler)
	}

	return recovery.Middleware(logger)(handler)
}

func breakerConfig(cfg *config.CircuitBreaker) circuitbreaker.Config {
	out := circuitbreaker.DefaultConfig()
	if cfg.FailureThreshold > 0 {
		out.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.OpenCooldownS > 0 {
		out.OpenCooldown = time.Duration(cfg.OpenCooldownS) * time.Second
	}
	return out
}

func breakerOverrides(gw *config.Gateway) map[string]circuitbreaker.Config {
	overrides := make(map[string]circuitbreaker.Config)
	defaults := breakerConfig(&gw.CircuitBreaker)
	for i := range gw.Services {
		svc := &gw.Services[i]
		if svc.CircuitBreaker == nil {
			continue
		}
		override := defaults
		if svc.CircuitBreaker.FailureThreshold > 0 {
			override.FailureThreshold = svc.CircuitBreaker.FailureThreshold
		}
		if svc.CircuitBreaker.OpenCooldownS > 0 {
			override.OpenCooldown = time.Duration(svc.CircuitBreaker.OpenCooldownS) * time.Second
		}
		overrides[svc.Name] = override
	}
	return overrides
}

// newLimiter picks the rate limit backend. With Redis configured the
// limit is shared across gateway replicas; otherwise each instance
// enforces it locally.
func newLimiter(cfg *config.RateLimit, logger *slog.Logger) ratelimit.Limiter {
	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return ratelimit.NewRedisLimiter(client, cfg.RequestsPerSecond, cfg.Burst, logger)
	}
	return ratelimit.NewTokenBucketLimiter(cfg.RequestsPerSecond, cfg.Burst)
}

// WatchConfig starts hot reload of the service topology from the
// given file. Only the routing table is swapped on reload; listener,
// auth, and breaker settings keep their boot-time values until
// restart, and accumulated breaker state survives the swap.
func (s *Server) WatchConfig(path string) error {
	watcher, err := config.NewWatcher(path, &config.WatcherConfig{
		DebounceDuration: 500 * time.Millisecond,
		OnChange: func(newConfig *config.Config) error {
			gw := &newConfig.Gateway
			return s.registry.Replace(gw.Descriptors(), gw.Routes())
		},
		OnError: func(err error) {
			s.logger.Error("config reload failed, keeping previous topology", "error", err)
		},
	}, s.logger)
	if err != nil {
		return err
	}

	watcher.Start()
	s.watcher = watcher
	return nil
}

// Start binds the listener and launches the background loops. It
// returns once the gateway is accepting connections; a bind failure is
// reported synchronously.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.httpSrv.Addr, err)
	}

	if err := s.monitor.Start(ctx); err != nil {
		listener.Close()
		return fmt.Errorf("starting health monitor: %w", err)
	}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server terminated", "error", err)
		}
	}()

	s.logger.Info("gateway started",
		"addr", s.httpSrv.Addr,
		"services", len(s.config.Gateway.Services),
		"version", Version,
	)
	return nil
}

// Stop drains in-flight requests and tears down the background loops.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down gateway")

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("failed to stop config watcher", "error", err)
		}
	}

	shutdownErr := s.httpSrv.Shutdown(ctx)

	if err := s.monitor.Stop(); err != nil {
		s.logger.Warn("failed to stop health monitor", "error", err)
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Warn("failed to flush telemetry", "error", err)
	}

	if shutdownErr != nil {
		return fmt.Errorf("http shutdown: %w", shutdownErr)
	}

	s.logger.Info("gateway stopped")
	return nil
}
