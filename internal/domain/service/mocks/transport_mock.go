package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/s2s/internal/domain/service"
)

// MockTransport is a mock implementation of Transport
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Execute(ctx context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.OutboundResponse), args.Error(1)
}

var _ service.Transport = (*MockTransport)(nil)
