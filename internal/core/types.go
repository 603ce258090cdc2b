package core

import (
	"time"
)

// ServiceDescriptor describes a backend service behind the gateway.
// Descriptors are immutable after registration; configuration reload
// replaces the whole registry rather than mutating entries in place.
type ServiceDescriptor struct {
	Name         string
	BaseURL      string
	HealthPath   string
	Timeout      time.Duration
	RequiresAuth bool
}

// RouteRule maps a path prefix to a service. Rules are evaluated by
// longest-prefix match; ties are broken by registration order.
type RouteRule struct {
	PathPrefix  string
	ServiceName string
}

// Identity is the resolved caller identity for a single request.
// It is created by the auth propagator and discarded once the
// response has been written.
type Identity struct {
	UserID         string
	Email          string
	Role           string
	OrganizationID string
}

// HealthStatus is the advisory liveness state of a service as seen by
// the health monitor. It never gates routing decisions; blocking is
// the circuit breaker's exclusive responsibility.
type HealthStatus struct {
	Healthy     bool
	LastChecked time.Time
	LastError   string
}

// ServiceRegistry resolves request paths to service descriptors.
type ServiceRegistry interface {
	// Resolve returns the descriptor and matched rule for a path,
	// or false when no route matches.
	Resolve(path string) (*ServiceDescriptor, *RouteRule, bool)
	// Services returns all registered descriptors in registration order.
	Services() []*ServiceDescriptor
}
