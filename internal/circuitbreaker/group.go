package circuitbreaker

import (
	"log/slog"
	"sync"
)

// Group manages one breaker per service name. Breakers are created
// lazily on first use and survive registry reloads, so a degraded
// service does not get a clean slate just because the config file was
// touched.
type Group struct {
	defaults  Config
	overrides map[string]Config
	logger    *slog.Logger
	onChange  func(service string, from, to State)

	breakers sync.Map // map[string]*Breaker
}

// NewGroup creates a breaker group with global defaults and optional
// per-service overrides.
func NewGroup(defaults Config, overrides map[string]Config, logger *slog.Logger) *Group {
	if defaults.FailureThreshold <= 0 {
		defaults = DefaultConfig()
	}
	return &Group{
		defaults:  defaults,
		overrides: overrides,
		logger:    logger.With("component", "circuitbreaker"),
	}
}

// OnStateChange registers a callback invoked on every breaker
// transition, in addition to the group's own logging.
func (g *Group) OnStateChange(fn func(service string, from, to State)) {
	g.onChange = fn
}

// For returns the breaker for a service, creating it if needed.
func (g *Group) For(service string) *Breaker {
	if b, ok := g.breakers.Load(service); ok {
		return b.(*Breaker)
	}

	config := g.defaults
	if override, ok := g.overrides[service]; ok {
		config = override
	}

	config.OnStateChange = func(from, to State) {
		g.logger.Info("circuit breaker state changed",
			"service", service,
			"from", from.String(),
			"to", to.String(),
		)
		if g.onChange != nil {
			g.onChange(service, from, to)
		}
	}

	actual, _ := g.breakers.LoadOrStore(service, New(config))
	return actual.(*Breaker)
}

// Stats returns statistics for every breaker in the group.
func (g *Group) Stats() map[string]Stats {
	out := make(map[string]Stats)
	g.breakers.Range(func(key, value any) bool {
		out[key.(string)] = value.(*Breaker).Stats()
		return true
	})
	return out
}
