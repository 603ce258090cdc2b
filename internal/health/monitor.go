package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"grcgateway/internal/core"
)

// Monitor periodically probes the health endpoint of every registered
// service. It is purely observational: the results surface through
// /services/status and metrics, but never open or close a circuit.
// The circuit breaker and the monitor are two decoupled feedback loops
// by design; neither blocks on the other.
type Monitor struct {
	registry     core.ServiceRegistry
	interval     time.Duration
	probeTimeout time.Duration
	client       *http.Client
	logger       *slog.Logger
	onProbe      func(service string, healthy bool, elapsed time.Duration)

	mu       sync.RWMutex
	statuses map[string]core.HealthStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor over the given registry.
func NewMonitor(registry core.ServiceRegistry, interval, probeTimeout time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	return &Monitor{
		registry:     registry,
		interval:     interval,
		probeTimeout: probeTimeout,
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
		logger:   logger.With("component", "health-monitor"),
		statuses: make(map[string]core.HealthStatus),
	}
}

// OnProbe registers a callback invoked after every probe, used to
// update metrics.
func (m *Monitor) OnProbe(fn func(service string, healthy bool, elapsed time.Duration)) {
	m.onProbe = fn
}

// Start begins the probe loop. The initial sweep runs immediately so
// /services/status is populated shortly after startup.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("health monitor started", "interval", m.interval)
	return nil
}

// Stop stops the probe loop and waits for in-flight probes.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return fmt.Errorf("monitor not started")
	}
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.logger.Info("health monitor stopped")
	return nil
}

// Snapshot returns the current health status of every probed service.
func (m *Monitor) Snapshot() map[string]core.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]core.HealthStatus, len(m.statuses))
	for name, status := range m.statuses {
		out[name] = status
	}
	return out
}

// Status returns the health status for a single service.
func (m *Monitor) Status(service string) (core.HealthStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[service]
	return status, ok
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeAll()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

// probeAll probes every registered service concurrently. Services are
// read from the registry on each sweep so a reloaded service set is
// picked up without restarting the monitor. A hanging service only
// burns its own probe goroutine; the per-probe timeout bounds it.
func (m *Monitor) probeAll() {
	services := m.registry.Services()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc *core.ServiceDescriptor) {
			defer wg.Done()
			m.probe(svc)
		}(svc)
	}
	wg.Wait()
}

// probe issues one bounded health check against a service.
func (m *Monitor) probe(svc *core.ServiceDescriptor) {
	ctx, cancel := context.WithTimeout(m.ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	err := m.check(ctx, svc)
	elapsed := time.Since(start)

	m.record(svc.Name, err)

	if m.onProbe != nil {
		m.onProbe(svc.Name, err == nil, elapsed)
	}
}

func (m *Monitor) check(ctx context.Context, svc *core.ServiceDescriptor) error {
	url := strings.TrimSuffix(svc.BaseURL, "/") + svc.HealthPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func (m *Monitor) record(service string, checkErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.statuses[service]

	status := core.HealthStatus{
		Healthy:     checkErr == nil,
		LastChecked: time.Now(),
	}
	if checkErr != nil {
		status.LastError = checkErr.Error()
		m.logger.Debug("health check failed",
			"service", service,
			"error", checkErr,
		)
	} else if !previous.Healthy {
		m.logger.Info("service became healthy", "service", service)
	}

	m.statuses[service] = status
}
