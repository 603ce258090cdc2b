package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"grcgateway/internal/auth"
	"grcgateway/internal/circuitbreaker"
	"grcgateway/internal/core"
	"grcgateway/internal/health"
	"grcgateway/internal/middleware/ratelimit"
	"grcgateway/internal/telemetry"
	"grcgateway/pkg/errors"
	"grcgateway/pkg/metrics"
	"grcgateway/pkg/requestid"
)

// Router is the request pipeline: resolve the route, authenticate,
// consult the circuit breaker, forward, record the outcome. Each stage
// short-circuits with a typed error; client-side faults never reach
// the breaker.
type Router struct {
	registry  core.ServiceRegistry
	breakers  *circuitbreaker.Group
	monitor   *health.Monitor
	auth      *auth.Propagator
	limiter   ratelimit.Limiter
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics
	client    *http.Client
	logger    *slog.Logger
}

// NewRouter creates the proxy router.
func NewRouter(
	registry core.ServiceRegistry,
	breakers *circuitbreaker.Group,
	monitor *health.Monitor,
	propagator *auth.Propagator,
	tel *telemetry.Telemetry,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Router {
	return &Router{
		registry:  registry,
		breakers:  breakers,
		monitor:   monitor,
		auth:      propagator,
		telemetry: tel,
		metrics:   m,
		client:    NewUpstreamClient(),
		logger:    logger.With("component", "proxy"),
	}
}

// WithLimiter enables rate limiting on the proxy path.
func (rt *Router) WithLimiter(limiter ratelimit.Limiter) *Router {
	rt.limiter = limiter
	return rt
}

// WithClient replaces the upstream HTTP client, used by tests.
func (rt *Router) WithClient(client *http.Client) *Router {
	rt.client = client
	return rt
}

// NewUpstreamClient builds the pooled HTTP client used for forwarding.
// Timeouts are applied per request from the service descriptor, not on
// the client, so one slow service cannot shorten another's budget.
func NewUpstreamClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Handler returns the full gateway handler: admin endpoints plus the
// proxy itself.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("GET /services/status", rt.handleServicesStatus)
	mux.Handle("GET /metrics", rt.metrics.Handler())
	mux.Handle("/", rt)
	return mux
}

// ServeHTTP handles one proxied request.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	reqID := requestid.New()
	r.Header.Set(requestid.Header, reqID)
	w.Header().Set(requestid.Header, reqID)

	ctx, span := rt.telemetry.StartServerSpan(r)
	r = r.WithContext(ctx)

	if rt.limiter != nil {
		if err := rt.limiter.Allow(r.Context(), clientIP(r)); err != nil {
			rt.metrics.RateLimitRejected.Inc()
			status := rt.writeError(w, err, "")
			telemetry.EndSpan(span, status, err)
			rt.finish("", r, status, start, nil)
			return
		}
	}

	svc, rule, ok := rt.registry.Resolve(r.URL.Path)
	if !ok {
		err := errors.NewError(errors.ErrorTypeRouteNotFound, "no route for path").
			WithDetail("path", r.URL.Path)
		status := rt.writeError(w, err, "")
		telemetry.EndSpan(span, status, err)
		rt.finish("", r, status, start, nil)
		return
	}

	breaker := rt.breakers.For(svc.Name)

	var identity *core.Identity
	if svc.RequiresAuth {
		var err error
		identity, err = rt.auth.Authenticate(r.Header)
		if err != nil {
			// Client-side fault: the breaker never hears about it.
			status := rt.writeError(w, err, svc.Name)
			telemetry.EndSpan(span, status, err)
			rt.finish(svc.Name, r, status, start, breaker)
			return
		}
	}

	if !breaker.Allow() {
		rt.metrics.CircuitRejections.WithLabelValues(svc.Name).Inc()
		retryAfter := breaker.RemainingCooldown()
		err := errors.NewError(errors.ErrorTypeCircuitOpen, "service temporarily unavailable").
			WithDetail("retry_after", retryAfter.String())
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
		status := rt.writeError(w, err, svc.Name)
		telemetry.EndSpan(span, status, err)
		rt.finish(svc.Name, r, status, start, breaker)
		return
	}

	rt.metrics.ActiveRequests.WithLabelValues(svc.Name).Inc()
	defer rt.metrics.ActiveRequests.WithLabelValues(svc.Name).Dec()

	status, err := rt.forward(w, r, svc, rule, identity, breaker)
	telemetry.EndSpan(span, status, err)
	rt.finish(svc.Name, r, status, start, breaker)
}

// outcome makes sure each admitted request reports exactly one result
// to its breaker. Requests that end without an observable upstream
// outcome release their admission instead, so an abandoned half-open
// probe cannot hold the slot forever.
type outcome struct {
	breaker  *circuitbreaker.Breaker
	reported bool
}

func (o *outcome) success() {
	if !o.reported {
		o.reported = true
		o.breaker.Success()
	}
}

func (o *outcome) failure() {
	if !o.reported {
		o.reported = true
		o.breaker.Failure()
	}
}

func (o *outcome) abandon() {
	if !o.reported {
		o.reported = true
		o.breaker.Release()
	}
}

// recordError feeds a terminal error into breaker accounting. Client
// faults are not evidence of upstream health and are skipped.
func recordError(oc *outcome, werr *errors.Error) {
	if werr.ClientFault() {
		return
	}
	oc.failure()
}

// forward sends the request upstream and relays the response verbatim.
// It returns the status written to the client.
func (rt *Router) forward(
	w http.ResponseWriter,
	r *http.Request,
	svc *core.ServiceDescriptor,
	rule *core.RouteRule,
	identity *core.Identity,
	breaker *circuitbreaker.Breaker,
) (int, error) {
	oc := &outcome{breaker: breaker}
	defer oc.abandon()

	ctx, cancel := context.WithTimeout(r.Context(), svc.Timeout)
	defer cancel()

	target, err := upstreamURL(svc, rule, r.URL)
	if err != nil {
		werr := errors.NewError(errors.ErrorTypeInternal, "failed to build upstream URL").WithCause(err)
		return rt.writeError(w, werr, svc.Name), werr
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		werr := errors.NewError(errors.ErrorTypeInternal, "failed to create upstream request").WithCause(err)
		return rt.writeError(w, werr, svc.Name), werr
	}
	out.ContentLength = r.ContentLength

	copyHeaders(out.Header, r.Header)
	if identity != nil {
		rt.auth.Inject(identity, out.Header)
	}
	forwardedFor := clientIP(r)
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		forwardedFor = prior + ", " + forwardedFor
	}
	out.Header.Set("X-Forwarded-For", forwardedFor)
	out.Header.Set("X-Forwarded-Proto", forwardedProto(r))
	out.Header.Set("X-Forwarded-Host", r.Host)

	ctx, clientSpan := rt.telemetry.StartClientSpan(ctx, out, svc.Name)
	out = out.WithContext(ctx)

	resp, err := rt.client.Do(out)
	if err != nil {
		telemetry.EndSpan(clientSpan, 0, err)
		return rt.handleForwardError(w, r, svc, oc, err)
	}
	defer resp.Body.Close()

	// 5xx is evidence of an unhealthy upstream; everything else heals
	// the failure counter.
	if resp.StatusCode >= 500 {
		oc.failure()
		rt.metrics.UpstreamErrors.WithLabelValues(svc.Name, "upstream_status").Inc()
	} else {
		oc.success()
	}
	telemetry.EndSpan(clientSpan, resp.StatusCode, nil)

	// Relay the upstream response verbatim.
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client went away mid-body; the breaker outcome is already
		// recorded.
		rt.logger.Debug("response relay interrupted",
			"service", svc.Name,
			"error", err,
		)
	}

	return resp.StatusCode, nil
}

// handleForwardError classifies an upstream transport error, records
// it for circuit breaker accounting, and writes the edge response.
func (rt *Router) handleForwardError(
	w http.ResponseWriter,
	r *http.Request,
	svc *core.ServiceDescriptor,
	oc *outcome,
	err error,
) (int, error) {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		werr := errors.NewError(errors.ErrorTypeUpstreamTimeout, "upstream request timed out").WithCause(err)
		recordError(oc, werr)
		rt.metrics.UpstreamErrors.WithLabelValues(svc.Name, "timeout").Inc()
		return rt.writeError(w, werr, svc.Name), werr

	case stderrors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client disconnected and the upstream call was cancelled
		// before producing an outcome; the deferred release in forward
		// hands the admission back. A transport failure that happened
		// before the disconnect still falls through below and gets
		// recorded.
		rt.logger.Debug("client disconnected before upstream response",
			"service", svc.Name,
			"path", r.URL.Path,
		)
		return 0, err

	default:
		werr := errors.NewError(errors.ErrorTypeUpstreamConnect, "failed to reach upstream").WithCause(err)
		recordError(oc, werr)
		rt.metrics.UpstreamErrors.WithLabelValues(svc.Name, "connection").Inc()
		return rt.writeError(w, werr, svc.Name), werr
	}
}

// finish emits the per-request metrics and the single structured log
// event. Every exit path of ServeHTTP ends here, short circuits
// included, so unrouted and rejected requests are observable too.
func (rt *Router) finish(service string, r *http.Request, status int, start time.Time, breaker *circuitbreaker.Breaker) {
	rt.metrics.RequestsTotal.WithLabelValues(service, r.Method, httpStatusLabel(status)).Inc()
	rt.metrics.RequestDuration.WithLabelValues(service, r.Method).Observe(time.Since(start).Seconds())

	attrs := []any{
		"service", service,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if breaker != nil {
		attrs = append(attrs, "circuit_state", breaker.State().String())
	}
	rt.logger.Info("request completed", attrs...)
}

// upstreamURL joins the service base URL with the path remaining after
// the matched prefix, preserving the query string.
func upstreamURL(svc *core.ServiceDescriptor, rule *core.RouteRule, reqURL *url.URL) (string, error) {
	base, err := url.Parse(svc.BaseURL)
	if err != nil {
		return "", err
	}

	remaining := strings.TrimPrefix(reqURL.Path, rule.PathPrefix)
	joined := strings.TrimSuffix(base.Path, "/") + remaining
	if joined == "" {
		joined = "/"
	}

	base.Path = joined
	base.RawQuery = reqURL.RawQuery
	return base.String(), nil
}

// copyHeaders copies headers, skipping hop-by-hop ones.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(header string) bool {
	return hopByHopHeaders[strings.ToLower(header)]
}

// clientIP extracts the caller address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// retryAfterSeconds renders a Retry-After header value, rounded up so
// clients never retry early.
func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func httpStatusLabel(status int) string {
	if status == 0 {
		return "client_closed"
	}
	return strconv.Itoa(status)
}
