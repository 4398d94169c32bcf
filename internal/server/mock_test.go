package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/orchestrator"
)

// mockAssessor implements Assessor for testing.
type mockAssessor struct {
	mock.Mock
}

func (m *mockAssessor) Assess(ctx context.Context, in model.Input, opts orchestrator.Options) (*model.RiskAssessment, error) {
	args := m.Called(ctx, in, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RiskAssessment), args.Error(1)
}

func (m *mockAssessor) Health() orchestrator.HealthReport {
	args := m.Called()
	return args.Get(0).(orchestrator.HealthReport)
}
