package registry

import (
	"log/slog"
	"testing"
	"time"

	"grcgateway/internal/core"
)

func testServices() []core.ServiceDescriptor {
	return []core.ServiceDescriptor{
		{Name: "policy", BaseURL: "http://policy:8081", HealthPath: "/health", Timeout: 30 * time.Second, RequiresAuth: true},
		{Name: "risk", BaseURL: "http://risk:8082", HealthPath: "/health", Timeout: 30 * time.Second, RequiresAuth: true},
		{Name: "compliance", BaseURL: "http://compliance:8083", HealthPath: "/health", Timeout: 30 * time.Second, RequiresAuth: true},
	}
}

func mustRegistry(t *testing.T, services []core.ServiceDescriptor, rules []core.RouteRule) *Registry {
	t.Helper()
	r, err := New(services, rules, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRegistry_Resolve(t *testing.T) {
	r := mustRegistry(t, testServices(), []core.RouteRule{
		{PathPrefix: "/api/v1/policies", ServiceName: "policy"},
		{PathPrefix: "/api/v1/risks", ServiceName: "risk"},
	})

	tests := []struct {
		name        string
		path        string
		wantService string
		wantOK      bool
	}{
		{"exact prefix", "/api/v1/policies", "policy", true},
		{"sub path", "/api/v1/policies/42", "policy", true},
		{"deep sub path", "/api/v1/risks/42/assessments/7", "risk", true},
		{"with trailing slash", "/api/v1/policies/", "policy", true},
		{"no match", "/api/v1/unknown", "", false},
		{"root", "/", "", false},
		{"sibling segment not matched", "/api/v1/policies-archive", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, ok := r.Resolve(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if ok && svc.Name != tt.wantService {
				t.Errorf("Resolve(%q) service = %s, want %s", tt.path, svc.Name, tt.wantService)
			}
		})
	}
}

func TestRegistry_LongestPrefixWins(t *testing.T) {
	r := mustRegistry(t, testServices(), []core.RouteRule{
		{PathPrefix: "/api/v1", ServiceName: "policy"},
		{PathPrefix: "/api/v1/risks", ServiceName: "risk"},
	})

	svc, rule, ok := r.Resolve("/api/v1/risks/42")
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if svc.Name != "risk" {
		t.Errorf("service = %s, want risk (longest prefix)", svc.Name)
	}
	if rule.PathPrefix != "/api/v1/risks" {
		t.Errorf("matched prefix = %s, want /api/v1/risks", rule.PathPrefix)
	}

	svc, _, ok = r.Resolve("/api/v1/policies")
	if !ok || svc.Name != "policy" {
		t.Errorf("Resolve(/api/v1/policies) = %v, want policy via shorter prefix", svc)
	}
}

func TestRegistry_EqualLengthTieGoesToFirstRegistered(t *testing.T) {
	r := mustRegistry(t, testServices(), []core.RouteRule{
		{PathPrefix: "/api/v1/shared", ServiceName: "policy"},
		{PathPrefix: "/api/v1/shared", ServiceName: "risk"},
	})

	svc, _, ok := r.Resolve("/api/v1/shared/thing")
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if svc.Name != "policy" {
		t.Errorf("service = %s, want policy (first registered wins tie)", svc.Name)
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := mustRegistry(t, testServices(), []core.RouteRule{
		{PathPrefix: "/api/v1/policies", ServiceName: "policy"},
	})

	err := r.Replace(
		[]core.ServiceDescriptor{
			{Name: "workflow", BaseURL: "http://workflow:8084", HealthPath: "/health", Timeout: time.Second},
		},
		[]core.RouteRule{
			{PathPrefix: "/api/v1/workflows", ServiceName: "workflow"},
		},
	)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	if _, _, ok := r.Resolve("/api/v1/policies"); ok {
		t.Error("old route still resolvable after Replace()")
	}
	svc, _, ok := r.Resolve("/api/v1/workflows/1")
	if !ok || svc.Name != "workflow" {
		t.Errorf("new route not resolvable after Replace(), got %v", svc)
	}
}

func TestRegistry_ReplaceInvalidKeepsOld(t *testing.T) {
	r := mustRegistry(t, testServices(), []core.RouteRule{
		{PathPrefix: "/api/v1/policies", ServiceName: "policy"},
	})

	err := r.Replace(nil, []core.RouteRule{
		{PathPrefix: "/api/v1/x", ServiceName: "ghost"},
	})
	if err == nil {
		t.Fatal("Replace() with dangling rule succeeded, want error")
	}

	if _, _, ok := r.Resolve("/api/v1/policies"); !ok {
		t.Error("previous snapshot lost after failed Replace()")
	}
}

func TestRegistry_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		services []core.ServiceDescriptor
		rules    []core.RouteRule
	}{
		{
			"duplicate service name",
			[]core.ServiceDescriptor{
				{Name: "a", BaseURL: "http://a:1"},
				{Name: "a", BaseURL: "http://b:2"},
			},
			nil,
		},
		{
			"empty service name",
			[]core.ServiceDescriptor{{Name: "", BaseURL: "http://a:1"}},
			nil,
		},
		{
			"missing base URL",
			[]core.ServiceDescriptor{{Name: "a"}},
			nil,
		},
		{
			"rule references unknown service",
			[]core.ServiceDescriptor{{Name: "a", BaseURL: "http://a:1"}},
			[]core.RouteRule{{PathPrefix: "/x", ServiceName: "b"}},
		},
		{
			"prefix without leading slash",
			[]core.ServiceDescriptor{{Name: "a", BaseURL: "http://a:1"}},
			[]core.RouteRule{{PathPrefix: "x", ServiceName: "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.services, tt.rules, slog.Default()); err == nil {
				t.Error("New() error = nil, want validation error")
			}
		})
	}
}

func TestRegistry_Services(t *testing.T) {
	r := mustRegistry(t, testServices(), nil)

	services := r.Services()
	if len(services) != 3 {
		t.Fatalf("Services() len = %d, want 3", len(services))
	}
	if services[0].Name != "policy" || services[2].Name != "compliance" {
		t.Errorf("Services() order = %s..%s, want registration order", services[0].Name, services[2].Name)
	}
}
