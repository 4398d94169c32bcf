package source

import (
	"context"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/ratelimit"
	"github.com/sells-group/hazard-risk/internal/transport"
)

// Gateway is the rate-limited entry point to one provider. Every outbound
// provider request goes through Call.
type Gateway struct {
	name      string
	transport *transport.Client
	limiter   *ratelimit.Limiter
}

// NewGateway binds a transport to the limiter bucket named name. The bucket
// must already be registered with the limiter.
func NewGateway(name string, t *transport.Client, l *ratelimit.Limiter) *Gateway {
	return &Gateway{name: name, transport: t, limiter: l}
}

// Name returns the provider name.
func (g *Gateway) Name() string { return g.name }

// Stats returns the transport's rolling statistics.
func (g *Gateway) Stats() transport.Stats { return g.transport.Stats() }

// Call acquires a token without waiting, executes req, and settles the
// token. An empty bucket fails fast with *model.RateLimitError.
func (g *Gateway) Call(ctx context.Context, req transport.Request) (*transport.Response, error) {
	permit, wait, err := g.limiter.Acquire(g.name)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: acquire token", g.name)
	}
	if permit == nil {
		return nil, &model.RateLimitError{Source: g.name, RetryAfter: wait}
	}

	resp, err := g.transport.Do(ctx, req)
	if err != nil {
		permit.Release()
		return nil, Classify(g.name, err)
	}
	permit.Confirm()
	g.limiter.OnSuccess(g.name)
	return resp, nil
}

// Unmetered executes req without touching the rate limiter. It is used for
// health probes, which hit free status endpoints.
func (g *Gateway) Unmetered(ctx context.Context, req transport.Request) (*transport.Response, error) {
	resp, err := g.transport.Do(ctx, req)
	if err != nil {
		return nil, Classify(g.name, err)
	}
	return resp, nil
}

// Classify maps a transport failure onto the error taxonomy.
func Classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var rle *model.RateLimitError
	if errors.As(err, &rle) {
		return err
	}

	te, ok := transport.AsError(err)
	if !ok {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return eris.Wrapf(model.ErrTimeout, "%s: %v", name, err)
		case errors.Is(err, context.Canceled):
			return eris.Wrapf(err, "%s", name)
		default:
			return eris.Wrapf(model.ErrSourceUnavailable, "%s: %v", name, err)
		}
	}

	switch {
	case te.Kind == transport.KindTimeout:
		return eris.Wrapf(model.ErrTimeout, "%s: %s", name, te.Error())
	case te.StatusCode == http.StatusTooManyRequests:
		return &model.RateLimitError{Source: name, RetryAfter: te.RetryAfter}
	case te.StatusCode == http.StatusNotFound:
		return eris.Wrapf(model.ErrNoDataForLocation, "%s: %s", name, te.Error())
	case te.StatusCode == http.StatusBadRequest || te.StatusCode == http.StatusUnprocessableEntity:
		return eris.Wrapf(model.ErrInvalidInput, "%s: %s", name, te.Error())
	default:
		return eris.Wrapf(model.ErrSourceUnavailable, "%s: %s", name, te.Error())
	}
}
