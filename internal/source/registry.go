package source

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/metrics"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/ratelimit"
	"github.com/sells-group/hazard-risk/internal/resilience"
	"github.com/sells-group/hazard-risk/internal/transport"
)

// Deps carries the shared infrastructure every provider client is built on.
type Deps struct {
	Limiter    *ratelimit.Limiter
	Cache      *cache.Cache
	Metrics    *metrics.Metrics
	Retry      resilience.RetryConfig
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client

	// APIKeys holds credentials for commercial providers, keyed by name.
	APIKeys map[string]string
}

// NewGatewayFor registers desc's rate limit bucket and returns a gateway
// whose transport feeds 429s back into the adaptive limiter.
func NewGatewayFor(desc model.SourceDescriptor, deps Deps) *Gateway {
	deps.Limiter.Register(desc.Name, desc.RateLimit)
	t := transport.New(transport.Options{
		Source:     desc.Name,
		Timeout:    deps.Timeout,
		Retry:      deps.Retry,
		UserAgent:  deps.UserAgent,
		HTTPClient: deps.HTTPClient,
		Metrics:    deps.Metrics,
		OnThrottle: func() { deps.Limiter.OnThrottled(desc.Name) },
	})
	return NewGateway(desc.Name, t, deps.Limiter)
}

// RequiresKey reports whether the named provider needs an API key.
func RequiresKey(name string) bool {
	return name == FirstStreetName || name == ClimateCheckName
}

// Build constructs the client for desc. Commercial providers require an
// API key.
func Build(desc model.SourceDescriptor, deps Deps) (Source, error) {
	if deps.Limiter == nil || deps.Cache == nil {
		return nil, eris.New("source: limiter and cache are required")
	}
	key := deps.APIKeys[desc.Name]
	if RequiresKey(desc.Name) && key == "" {
		return nil, eris.Errorf("source: %s requires an api key", desc.Name)
	}

	switch desc.Name {
	case FEMAName:
		return NewFEMA(desc, NewGatewayFor(desc, deps), deps.Cache), nil
	case USGSName:
		return NewUSGS(desc, NewGatewayFor(desc, deps), deps.Cache), nil
	case FirstStreetName:
		return NewFirstStreet(desc, NewGatewayFor(desc, deps), deps.Cache, key), nil
	case ClimateCheckName:
		return NewClimateCheck(desc, NewGatewayFor(desc, deps), deps.Cache, key), nil
	default:
		return nil, eris.Errorf("source: unknown provider %q", desc.Name)
	}
}
