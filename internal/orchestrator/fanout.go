package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/resilience"
	"github.com/sells-group/hazard-risk/internal/source"
)

type callOutcome struct {
	report model.SourceReport
	result *model.RawSourceResult
}

// fanOut calls every eligible source concurrently and collects outcomes
// until all have answered or ctx is done. Calls run on a context detached
// from ctx with their own timeout: calls still pending at the deadline are
// abandoned, not cancelled, so their results can still populate the cache.
func (m *Manager) fanOut(ctx context.Context, selected []source.Source, req model.FetchRequest) ([]*model.RawSourceResult, []model.SourceReport, error) {
	reports := make([]model.SourceReport, 0, len(selected))
	ch := make(chan callOutcome, len(selected))
	pending := make(map[string]bool, len(selected))
	detached := context.WithoutCancel(ctx)

	for _, s := range selected {
		name := s.Name()
		if m.isDown(name) {
			reports = append(reports, model.SourceReport{Source: name, Status: model.SourceDown, Error: "marked down by health monitor"})
			continue
		}
		cb := m.breakers.Get(name)
		state := cb.State()
		if state == resilience.CircuitOpen {
			reports = append(reports, model.SourceReport{Source: name, Status: model.SourceCircuitOpen, Error: resilience.ErrCircuitOpen.Error()})
			continue
		}
		sreq := req
		// Half-open trials bypass the cache so their outcome reflects the provider.
		sreq.Refresh = state == resilience.CircuitHalfOpen

		pending[name] = true
		go func() {
			cctx, cancel := context.WithTimeout(detached, m.cfg.CallTimeout)
			defer cancel()
			ch <- m.call(cctx, s, cb, sreq)
		}()
	}

	var results []*model.RawSourceResult
collect:
	for len(pending) > 0 {
		select {
		case o := <-ch:
			delete(pending, o.report.Source)
			reports = append(reports, o.report)
			if o.result != nil {
				results = append(results, o.result)
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, nil, eris.Wrap(ctx.Err(), "orchestrator: assessment cancelled")
			}
			break collect
		}
	}

	for name := range pending {
		m.log.Warn("orchestrator: abandoning source at assessment deadline", zap.String("source", name))
		reports = append(reports, model.SourceReport{Source: name, Status: model.SourceTimeout, Error: "abandoned at assessment deadline"})
	}

	slices.SortFunc(reports, func(a, b model.SourceReport) int { return strings.Compare(a.Source, b.Source) })
	slices.SortFunc(results, func(a, b *model.RawSourceResult) int { return strings.Compare(a.Source, b.Source) })
	for _, r := range reports {
		m.metrics.SourceCalls.WithLabelValues(r.Source, string(r.Status)).Inc()
	}
	return results, reports, nil
}

// call fetches from one source through its breaker.
func (m *Manager) call(ctx context.Context, s source.Source, cb *resilience.CircuitBreaker, req model.FetchRequest) callOutcome {
	start := m.clock.Now()
	res, err := resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*model.RawSourceResult, error) {
		return s.Fetch(ctx, req)
	})
	rep := model.SourceReport{Source: s.Name(), Latency: m.clock.Since(start), Status: statusFor(err)}

	if err != nil {
		rep.Error = err.Error()
		m.log.Debug("orchestrator: source call failed",
			zap.String("source", s.Name()),
			zap.String("status", string(rep.Status)),
			zap.Error(err),
		)
		return callOutcome{report: rep}
	}
	if res.FromCache {
		rep.Status = model.SourceCached
	}
	return callOutcome{report: rep, result: res}
}

func statusFor(err error) model.SourceStatus {
	switch {
	case err == nil:
		return model.SourceOK
	case errors.Is(err, resilience.ErrCircuitOpen):
		return model.SourceCircuitOpen
	case errors.Is(err, model.ErrRateLimited):
		return model.SourceRateLimited
	case errors.Is(err, model.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return model.SourceTimeout
	case errors.Is(err, model.ErrNoDataForLocation):
		return model.SourceNoData
	default:
		return model.SourceFailed
	}
}

func (m *Manager) isDown(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.down[name]
}
