package cors

import (
	"net/http"
	"strconv"
	"strings"
)

// Config holds CORS configuration
type Config struct {
	// AllowedOrigins is a list of allowed origins. Use ["*"] to allow all origins.
	AllowedOrigins []string
	// AllowedMethods is a list of allowed HTTP methods
	AllowedMethods []string
	// AllowedHeaders is a list of allowed headers
	AllowedHeaders []string
	// AllowCredentials indicates whether the request can include user credentials
	AllowCredentials bool
	// MaxAge indicates how long (in seconds) preflight results may be cached
	MaxAge int
}

// DefaultConfig returns a default CORS configuration
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	}
}

// CORS applies Cross-Origin Resource Sharing headers for the browser
// frontend.
type CORS struct {
	config         Config
	allowedOrigins map[string]bool
	allowAllOrigin bool
}

// New creates a new CORS middleware handler
func New(config Config) *CORS {
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if len(config.AllowedMethods) == 0 {
		config.AllowedMethods = DefaultConfig().AllowedMethods
	}
	if len(config.AllowedHeaders) == 0 {
		config.AllowedHeaders = []string{"*"}
	}

	allowedOrigins := make(map[string]bool, len(config.AllowedOrigins))
	allowAll := false
	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowedOrigins[strings.ToLower(origin)] = true
	}

	return &CORS{
		config:         config,
		allowedOrigins: allowedOrigins,
		allowAllOrigin: allowAll,
	}
}

// Handler wraps next with CORS processing.
func (c *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			c.handlePreflight(w, origin)
			return
		}

		if origin != "" && c.originAllowed(origin) {
			c.setCommonHeaders(w, origin)
		}

		next.ServeHTTP(w, r)
	})
}

func (c *CORS) handlePreflight(w http.ResponseWriter, origin string) {
	if origin == "" || !c.originAllowed(origin) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	c.setCommonHeaders(w, origin)
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(c.config.AllowedMethods, ", "))
	w.Header().Set("Access-Control-Allow-Headers", strings.Join(c.config.AllowedHeaders, ", "))
	if c.config.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(c.config.MaxAge))
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *CORS) setCommonHeaders(w http.ResponseWriter, origin string) {
	if c.allowAllOrigin && !c.config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if c.config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

func (c *CORS) originAllowed(origin string) bool {
	if c.allowAllOrigin {
		return true
	}
	return c.allowedOrigins[strings.ToLower(origin)]
}
