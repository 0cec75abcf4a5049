package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/s2s/internal/domain/models"
)

// MockIssuanceSink is a mock implementation of IssuanceSink
type MockIssuanceSink struct {
	mock.Mock
}

func (m *MockIssuanceSink) RecordIssuance(ctx context.Context, event models.IssuanceEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
