package registry

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"grcgateway/internal/core"
)

// Registry maps request paths to service descriptors using
// longest-prefix matching over an ordered rule set.
//
// The route table is built once and swapped atomically on reload, so
// lookups never observe a partially updated registry.
type Registry struct {
	current atomic.Pointer[snapshot]
	logger  *slog.Logger
}

// snapshot is one immutable generation of the registry.
type snapshot struct {
	services map[string]*core.ServiceDescriptor
	order    []*core.ServiceDescriptor
	rules    []boundRule
}

// boundRule is a route rule resolved against its service descriptor.
type boundRule struct {
	rule    core.RouteRule
	service *core.ServiceDescriptor
}

// New creates a registry from service descriptors and route rules.
// Every rule must reference a registered service.
func New(services []core.ServiceDescriptor, rules []core.RouteRule, logger *slog.Logger) (*Registry, error) {
	snap, err := buildSnapshot(services, rules)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		logger: logger.With("component", "registry"),
	}
	r.current.Store(snap)
	return r, nil
}

// Replace atomically swaps the whole registry for a new service set.
// The previous snapshot stays valid for requests already resolving
// against it.
func (r *Registry) Replace(services []core.ServiceDescriptor, rules []core.RouteRule) error {
	snap, err := buildSnapshot(services, rules)
	if err != nil {
		return err
	}

	r.current.Store(snap)
	r.logger.Info("registry replaced",
		"services", len(snap.order),
		"routes", len(snap.rules),
	)
	return nil
}

// Resolve finds the service for a request path. The longest matching
// prefix wins; equal-length ties go to the rule registered first.
func (r *Registry) Resolve(path string) (*core.ServiceDescriptor, *core.RouteRule, bool) {
	snap := r.current.Load()
	for i := range snap.rules {
		if matchPrefix(path, snap.rules[i].rule.PathPrefix) {
			return snap.rules[i].service, &snap.rules[i].rule, true
		}
	}
	return nil, nil, false
}

// Services returns all registered descriptors in registration order.
func (r *Registry) Services() []*core.ServiceDescriptor {
	snap := r.current.Load()
	out := make([]*core.ServiceDescriptor, len(snap.order))
	copy(out, snap.order)
	return out
}

func buildSnapshot(services []core.ServiceDescriptor, rules []core.RouteRule) (*snapshot, error) {
	snap := &snapshot{
		services: make(map[string]*core.ServiceDescriptor, len(services)),
	}

	for i := range services {
		svc := services[i]
		if svc.Name == "" {
			return nil, fmt.Errorf("service %d: name is required", i)
		}
		if _, exists := snap.services[svc.Name]; exists {
			return nil, fmt.Errorf("duplicate service name: %s", svc.Name)
		}
		if _, err := url.Parse(svc.BaseURL); err != nil || svc.BaseURL == "" {
			return nil, fmt.Errorf("service %s: invalid base URL %q", svc.Name, svc.BaseURL)
		}
		snap.services[svc.Name] = &svc
		snap.order = append(snap.order, &svc)
	}

	for i, rule := range rules {
		if !strings.HasPrefix(rule.PathPrefix, "/") {
			return nil, fmt.Errorf("route %d: path prefix %q must start with /", i, rule.PathPrefix)
		}
		svc, ok := snap.services[rule.ServiceName]
		if !ok {
			return nil, fmt.Errorf("route %s references unknown service: %s", rule.PathPrefix, rule.ServiceName)
		}
		snap.rules = append(snap.rules, boundRule{rule: rule, service: svc})
	}

	// Longest prefix first; stable sort keeps registration order for ties.
	sort.SliceStable(snap.rules, func(i, j int) bool {
		return len(snap.rules[i].rule.PathPrefix) > len(snap.rules[j].rule.PathPrefix)
	})

	return snap, nil
}

// matchPrefix reports whether path falls under prefix on a path
// segment boundary, so /api/v1/policies does not match
// /api/v1/policies-archive.
func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}
