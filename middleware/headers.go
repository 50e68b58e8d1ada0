package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/onerpc/endpoint"
)

// APIHeadersProcessor sets response headers suited to a JSON API and
// answers CORS preflight requests.
//
// Defaults from NewAPIHeadersProcessor:
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Referrer-Policy: no-referrer
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cache-Control: no-store
//
// CORS is off until configured with WithCORS.
type APIHeadersProcessor struct {
	// HSTS configures Strict-Transport-Security. Nil disables it.
	HSTS *HSTSConfig

	// ReferrerPolicy sets Referrer-Policy. Empty disables it.
	ReferrerPolicy string

	// NoSniff sets X-Content-Type-Options: nosniff.
	NoSniff bool

	// ContentSecurityPolicy sets Content-Security-Policy. Empty disables it.
	ContentSecurityPolicy string

	// CacheControl sets Cache-Control. Empty disables it.
	CacheControl string

	// CORS configures cross-origin access. Nil disables it.
	CORS *CORSConfig
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	// MaxAge in seconds. Zero or less disables the header.
	MaxAge            int
	IncludeSubDomains bool
	Preload           bool
}

// CORSConfig configures Cross-Origin Resource Sharing.
type CORSConfig struct {
	// AllowedOrigins lists exact origins, or "*" for any origin. "*" is
	// ignored when AllowCredentials is set.
	AllowedOrigins []string

	// AllowedMethods answers Access-Control-Request-Method on preflight.
	// Default: POST, OPTIONS.
	AllowedMethods []string

	// AllowedHeaders answers Access-Control-Request-Headers on preflight.
	// Default: Content-Type, Authorization, X-Request-Id.
	AllowedHeaders []string

	// ExposedHeaders lists response headers visible to scripts.
	ExposedHeaders []string

	AllowCredentials bool

	// MaxAge is how long, in seconds, a preflight result may be cached.
	MaxAge int
}

// HeadersOption configures an APIHeadersProcessor.
type HeadersOption func(*APIHeadersProcessor)

// NewAPIHeadersProcessor creates an APIHeadersProcessor with API defaults.
func NewAPIHeadersProcessor(opts ...HeadersOption) *APIHeadersProcessor {
	p := &APIHeadersProcessor{
		HSTS: &HSTSConfig{
			MaxAge:            31536000,
			IncludeSubDomains: true,
		},
		ReferrerPolicy:        "no-referrer",
		NoSniff:               true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		CacheControl:          "no-store",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS configures Strict-Transport-Security.
func WithHSTS(maxAge int, includeSubDomains, preload bool) HeadersOption {
	return func(p *APIHeadersProcessor) {
		p.HSTS = &HSTSConfig{MaxAge: maxAge, IncludeSubDomains: includeSubDomains, Preload: preload}
	}
}

// WithoutHSTS disables Strict-Transport-Security, e.g. for plain HTTP in
// development.
func WithoutHSTS() HeadersOption {
	return func(p *APIHeadersProcessor) {
		p.HSTS = nil
	}
}

// WithCSP replaces the Content-Security-Policy.
func WithCSP(policy string) HeadersOption {
	return func(p *APIHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithCacheControl replaces the Cache-Control value.
func WithCacheControl(v string) HeadersOption {
	return func(p *APIHeadersProcessor) {
		p.CacheControl = v
	}
}

// WithCORS enables CORS. Unset method and header lists take the defaults.
func WithCORS(config CORSConfig) HeadersOption {
	return func(p *APIHeadersProcessor) {
		if config.AllowedMethods == nil {
			config.AllowedMethods = []string{http.MethodPost, http.MethodOptions}
		}
		if config.AllowedHeaders == nil {
			config.AllowedHeaders = []string{"Content-Type", "Authorization", RequestIDHeader}
		}
		p.CORS = &config
	}
}

// Process implements endpoint.Processor.
func (p *APIHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if v := formatHSTS(p.HSTS); v != "" {
		h.Set("Strict-Transport-Security", v)
	}
	setIf(h, "Referrer-Policy", p.ReferrerPolicy)
	if p.NoSniff {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	setIf(h, "Content-Security-Policy", p.ContentSecurityPolicy)
	setIf(h, "Cache-Control", p.CacheControl)

	if p.CORS != nil {
		h.Add("Vary", "Origin")
		setCORSHeaders(h, r, p.CORS)
		if isPreflight(r) {
			return endpoint.Error(http.StatusNoContent, "", nil)
		}
	}
	return next(w, r)
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

func formatHSTS(config *HSTSConfig) string {
	if config == nil || config.MaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(config.MaxAge)}
	if config.IncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.Preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not allowed.
func allowOrigin(config *CORSConfig, origin string) string {
	if slices.Contains(config.AllowedOrigins, origin) {
		return origin
	}
	// Wildcard is forbidden together with credentials.
	if !config.AllowCredentials && slices.Contains(config.AllowedOrigins, "*") {
		return "*"
	}
	return ""
}

func setCORSHeaders(h http.Header, r *http.Request, config *CORSConfig) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := allowOrigin(config, origin)
	if allowed == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allowed)
	if config.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(config.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}

	if r.Method != http.MethodOptions {
		return
	}
	if len(config.AllowedMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
	}
	if len(config.AllowedHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
	}
	if config.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
	}
}

var _ endpoint.Processor = (*APIHeadersProcessor)(nil)
