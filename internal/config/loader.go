package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"grcgateway/pkg/errors"
)

// Loader loads configuration from file
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a config loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true, // Enable env vars by default
	}
}

// WithEnvVars enables or disables environment variable loading
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Load loads the configuration
func (l *Loader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").WithCause(err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse config").WithCause(err)
	}

	// Override with environment variables if enabled
	if l.envEnabled {
		if err := LoadEnv(cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load env vars").WithCause(err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "invalid configuration").WithCause(err)
	}

	return cfg, nil
}

// Validate checks the configuration for structural problems.
func Validate(cfg *Config) error {
	gw := &cfg.Gateway

	if gw.Server.Port <= 0 || gw.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", gw.Server.Port)
	}

	if len(gw.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}

	seen := make(map[string]bool, len(gw.Services))
	authRequired := false
	for i, svc := range gw.Services {
		if svc.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name: %s", svc.Name)
		}
		seen[svc.Name] = true

		if svc.BaseURL == "" {
			return fmt.Errorf("service %s: baseUrl is required", svc.Name)
		}
		if len(svc.Routes) == 0 {
			return fmt.Errorf("service %s: at least one route is required", svc.Name)
		}
		for _, route := range svc.Routes {
			if !strings.HasPrefix(route, "/") {
				return fmt.Errorf("service %s: route %q must start with /", svc.Name, route)
			}
		}
		if svc.RequiresAuth {
			authRequired = true
		}
	}

	if authRequired && gw.Auth.Secret == "" && gw.Auth.PublicKey == "" {
		return fmt.Errorf("auth secret or publicKey is required when a service has requiresAuth")
	}

	if gw.RateLimit.Enabled && gw.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rateLimit.requestsPerSecond must be positive when rate limiting is enabled")
	}

	return nil
}
