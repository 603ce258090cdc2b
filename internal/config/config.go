package config

import (
	"time"

	"grcgateway/internal/core"
)

// Config holds gateway configuration
type Config struct {
	Gateway Gateway `yaml:"gateway"`
}

// Gateway configuration
type Gateway struct {
	Server           Server         `yaml:"server"`
	Auth             Auth           `yaml:"auth"`
	CircuitBreaker   CircuitBreaker `yaml:"circuitBreaker"`
	Health           Health         `yaml:"health"`
	RequestTimeoutMs int            `yaml:"requestTimeoutMs"`
	CORS             CORS           `yaml:"cors"`
	RateLimit        RateLimit      `yaml:"rateLimit"`
	Telemetry        Telemetry      `yaml:"telemetry"`
	Services         []Service      `yaml:"services"`
}

// Server configuration for the gateway's own HTTP listener
type Server struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// Auth configuration for bearer token validation
type Auth struct {
	// SigningMethod is the JWT signing algorithm (HS256, RS256, ...)
	SigningMethod string `yaml:"signingMethod"`
	// Secret for HMAC validation
	Secret string `yaml:"secret"`
	// PublicKey (PEM) for RSA validation
	PublicKey string `yaml:"publicKey"`
	// Issuer is the expected token issuer, empty to skip the check
	Issuer string `yaml:"issuer"`
	// StripAuthorization removes the inbound Authorization header
	// before forwarding; default is to pass it through alongside the
	// injected identity headers
	StripAuthorization bool `yaml:"stripAuthorization"`
	// Claim names mapped into identity headers
	UserIDClaim       string `yaml:"userIdClaim"`
	EmailClaim        string `yaml:"emailClaim"`
	RoleClaim         string `yaml:"roleClaim"`
	OrganizationClaim string `yaml:"organizationClaim"`
}

// CircuitBreaker thresholds; the top-level block sets global defaults,
// a per-service block overrides them
type CircuitBreaker struct {
	FailureThreshold int `yaml:"failureThreshold"`
	OpenCooldownS    int `yaml:"openCooldownS"`
}

// Health monitor configuration
type Health struct {
	IntervalS     int `yaml:"intervalS"`
	ProbeTimeoutS int `yaml:"probeTimeoutS"`
}

// CORS configuration for browser clients
type CORS struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// RateLimit configuration
type RateLimit struct {
	Enabled           bool   `yaml:"enabled"`
	RequestsPerSecond int    `yaml:"requestsPerSecond"`
	Burst             int    `yaml:"burst"`
	Redis             *Redis `yaml:"redis,omitempty"`
}

// Redis connection settings for the shared rate limit store
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Telemetry configuration
type Telemetry struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// Service describes one backend service and its routes
type Service struct {
	Name           string          `yaml:"name"`
	BaseURL        string          `yaml:"baseUrl"`
	HealthPath     string          `yaml:"healthPath"`
	TimeoutMs      int             `yaml:"timeoutMs"`
	RequiresAuth   bool            `yaml:"requiresAuth"`
	Routes         []string        `yaml:"routes"`
	CircuitBreaker *CircuitBreaker `yaml:"circuitBreaker,omitempty"`
}

// ToDescriptor converts to core.ServiceDescriptor, applying the
// global default timeout when the service does not set its own.
func (s *Service) ToDescriptor(defaultTimeoutMs int) core.ServiceDescriptor {
	timeoutMs := s.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	healthPath := s.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	return core.ServiceDescriptor{
		Name:         s.Name,
		BaseURL:      s.BaseURL,
		HealthPath:   healthPath,
		Timeout:      time.Duration(timeoutMs) * time.Millisecond,
		RequiresAuth: s.RequiresAuth,
	}
}

// Descriptors converts all configured services to core descriptors.
func (g *Gateway) Descriptors() []core.ServiceDescriptor {
	out := make([]core.ServiceDescriptor, 0, len(g.Services))
	for i := range g.Services {
		out = append(out, g.Services[i].ToDescriptor(g.RequestTimeoutMs))
	}
	return out
}

// Routes flattens all per-service route prefixes into route rules,
// preserving declaration order for tie-breaking.
func (g *Gateway) Routes() []core.RouteRule {
	var out []core.RouteRule
	for i := range g.Services {
		for _, prefix := range g.Services[i].Routes {
			out = append(out, core.RouteRule{
				PathPrefix:  prefix,
				ServiceName: g.Services[i].Name,
			})
		}
	}
	return out
}

// HealthInterval returns the probe interval.
func (g *Gateway) HealthInterval() time.Duration {
	if g.Health.IntervalS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(g.Health.IntervalS) * time.Second
}

// ProbeTimeout returns the per-probe timeout.
func (g *Gateway) ProbeTimeout() time.Duration {
	if g.Health.ProbeTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(g.Health.ProbeTimeoutS) * time.Second
}

// RequestTimeout returns the default upstream request timeout.
func (g *Gateway) RequestTimeout() time.Duration {
	if g.RequestTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(g.RequestTimeoutMs) * time.Millisecond
}
