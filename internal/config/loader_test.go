package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
gateway:
  server:
    port: 9090
  auth:
    secret: "test-secret"
    issuer: "grc-platform"
  circuitBreaker:
    failureThreshold: 3
    openCooldownS: 60
  health:
    intervalS: 10
  requestTimeoutMs: 15000
  services:
    - name: policy
      baseUrl: "http://policy:8081"
      requiresAuth: true
      routes:
        - /api/v1/policies
    - name: risk
      baseUrl: "http://risk:8082"
      timeoutMs: 45000
      requiresAuth: true
      circuitBreaker:
        failureThreshold: 2
        openCooldownS: 30
      routes:
        - /api/v1/risks
        - /api/v1/assessments
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	path := writeConfig(t, validYAML)

	cfg, err := NewLoader(path).WithEnvVars(false).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	gw := &cfg.Gateway
	if gw.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", gw.Server.Port)
	}
	if gw.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %s, want default kept", gw.Server.Host)
	}
	if gw.Auth.Secret != "test-secret" {
		t.Errorf("Auth.Secret = %s", gw.Auth.Secret)
	}
	if gw.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", gw.CircuitBreaker.FailureThreshold)
	}
	if len(gw.Services) != 2 {
		t.Fatalf("Services len = %d, want 2", len(gw.Services))
	}
	if gw.Services[1].CircuitBreaker == nil || gw.Services[1].CircuitBreaker.FailureThreshold != 2 {
		t.Errorf("per-service breaker override not loaded: %+v", gw.Services[1].CircuitBreaker)
	}
}

func TestLoader_FileMissing(t *testing.T) {
	if _, err := NewLoader("/nonexistent/gateway.yaml").Load(); err == nil {
		t.Error("Load() error = nil, want read failure")
	}
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "gateway: [not a map")
	if _, err := NewLoader(path).Load(); err == nil {
		t.Error("Load() error = nil, want parse failure")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Gateway.Auth.Secret = "s"
		cfg.Gateway.Services = []Service{{
			Name:         "policy",
			BaseURL:      "http://policy:8081",
			RequiresAuth: true,
			Routes:       []string{"/api/v1/policies"},
		}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Gateway.Server.Port = 0 }, true},
		{"no services", func(c *Config) { c.Gateway.Services = nil }, true},
		{"missing name", func(c *Config) { c.Gateway.Services[0].Name = "" }, true},
		{"missing base URL", func(c *Config) { c.Gateway.Services[0].BaseURL = "" }, true},
		{"no routes", func(c *Config) { c.Gateway.Services[0].Routes = nil }, true},
		{"relative route", func(c *Config) { c.Gateway.Services[0].Routes = []string{"api/v1"} }, true},
		{"auth required without secret", func(c *Config) { c.Gateway.Auth.Secret = "" }, true},
		{"auth not required without secret", func(c *Config) {
			c.Gateway.Auth.Secret = ""
			c.Gateway.Services[0].RequiresAuth = false
		}, false},
		{"duplicate names", func(c *Config) {
			c.Gateway.Services = append(c.Gateway.Services, c.Gateway.Services[0])
		}, true},
		{"rate limit enabled without rate", func(c *Config) {
			c.Gateway.RateLimit.Enabled = true
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_SERVER_PORT", "7070")
	t.Setenv("GATEWAY_AUTH_SECRET", "env-secret")
	t.Setenv("GATEWAY_RATELIMIT_ENABLED", "true")
	t.Setenv("GATEWAY_RATELIMIT_REQUESTSPERSECOND", "50")
	t.Setenv("GATEWAY_CORS_ALLOWEDORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("GATEWAY_TELEMETRY_SAMPLERATE", "0.25")

	cfg := Default()
	if err := LoadEnv(cfg); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}

	gw := &cfg.Gateway
	if gw.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", gw.Server.Port)
	}
	if gw.Auth.Secret != "env-secret" {
		t.Errorf("Auth.Secret = %s, want env-secret", gw.Auth.Secret)
	}
	if !gw.RateLimit.Enabled || gw.RateLimit.RequestsPerSecond != 50 {
		t.Errorf("RateLimit = %+v, want enabled at 50 rps", gw.RateLimit)
	}
	if len(gw.CORS.AllowedOrigins) != 2 || gw.CORS.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("CORS.AllowedOrigins = %v", gw.CORS.AllowedOrigins)
	}
	if gw.Telemetry.SampleRate != 0.25 {
		t.Errorf("Telemetry.SampleRate = %v, want 0.25", gw.Telemetry.SampleRate)
	}
}

func TestLoadEnv_NestedPointer(t *testing.T) {
	t.Setenv("GATEWAY_RATELIMIT_REDIS_ADDR", "redis:6379")

	cfg := Default()
	if err := LoadEnv(cfg); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}

	if cfg.Gateway.RateLimit.Redis == nil {
		t.Fatal("RateLimit.Redis = nil, want allocated from env")
	}
	if cfg.Gateway.RateLimit.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %s", cfg.Gateway.RateLimit.Redis.Addr)
	}
}

func TestLoadEnv_InvalidValue(t *testing.T) {
	t.Setenv("GATEWAY_SERVER_PORT", "not-a-number")

	if err := LoadEnv(Default()); err == nil {
		t.Error("LoadEnv() error = nil, want parse error")
	}
}

func TestGateway_ConversionHelpers(t *testing.T) {
	cfg := Default()
	cfg.Gateway.RequestTimeoutMs = 15000
	cfg.Gateway.Services = []Service{
		{Name: "policy", BaseURL: "http://policy:8081", RequiresAuth: true, Routes: []string{"/api/v1/policies", "/api/v1/controls"}},
		{Name: "risk", BaseURL: "http://risk:8082", TimeoutMs: 45000, Routes: []string{"/api/v1/risks"}},
	}

	descriptors := cfg.Gateway.Descriptors()
	if len(descriptors) != 2 {
		t.Fatalf("Descriptors() len = %d, want 2", len(descriptors))
	}
	if descriptors[0].Timeout != 15*time.Second {
		t.Errorf("policy timeout = %v, want global default applied", descriptors[0].Timeout)
	}
	if descriptors[1].Timeout != 45*time.Second {
		t.Errorf("risk timeout = %v, want per-service override", descriptors[1].Timeout)
	}
	if descriptors[0].HealthPath != "/health" {
		t.Errorf("HealthPath = %s, want /health default", descriptors[0].HealthPath)
	}

	routes := cfg.Gateway.Routes()
	if len(routes) != 3 {
		t.Fatalf("Routes() len = %d, want 3", len(routes))
	}
	if routes[0].PathPrefix != "/api/v1/policies" || routes[0].ServiceName != "policy" {
		t.Errorf("routes[0] = %+v, want declaration order preserved", routes[0])
	}
	if routes[2].ServiceName != "risk" {
		t.Errorf("routes[2] = %+v", routes[2])
	}
}
