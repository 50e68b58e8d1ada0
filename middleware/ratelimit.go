package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mnehpets/onerpc/endpoint"
)

// DefaultIdleTimeout is how long a key's bucket is kept after its last
// request.
const DefaultIdleTimeout = 3 * time.Minute

// RateLimitProcessor rejects requests over a token-bucket rate with 429 Too
// Many Requests.
//
// With a KeyFunc, each key (e.g. client address) gets its own bucket.
// Without one, a single bucket is shared by all requests. Buckets idle for
// longer than IdleTimeout are dropped; a returning client starts with a full
// bucket.
type RateLimitProcessor struct {
	limit rate.Limit
	burst int

	// KeyFunc selects the bucket for a request.
	KeyFunc func(*http.Request) string

	// IdleTimeout defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration

	now func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimitProcessor allows rps requests per second with the given
// burst.
func NewRateLimitProcessor(rps float64, burst int) *RateLimitProcessor {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitProcessor{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// ClientIP keys requests by the remote address without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (p *RateLimitProcessor) idleTimeout() time.Duration {
	if p.IdleTimeout > 0 {
		return p.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (p *RateLimitProcessor) limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	idle := p.idleTimeout()
	if now.Sub(p.lastSweep) >= idle {
		p.sweep(now, idle)
	}
	c, ok := p.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// sweep removes clients idle for longer than idle. Called with p.mu held.
func (p *RateLimitProcessor) sweep(now time.Time, idle time.Duration) {
	for key, c := range p.clients {
		if now.Sub(c.lastSeen) > idle {
			delete(p.clients, key)
		}
	}
	p.lastSweep = now
}

// Len returns the number of buckets currently tracked.
func (p *RateLimitProcessor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Process implements endpoint.Processor.
func (p *RateLimitProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	key := ""
	if p.KeyFunc != nil {
		key = p.KeyFunc(r)
	}
	res := p.limiter(key).Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		secs := int(delay.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		return endpoint.Error(http.StatusTooManyRequests, "", nil)
	}
	return next(w, r)
}

var _ endpoint.Processor = (*RateLimitProcessor)(nil)
