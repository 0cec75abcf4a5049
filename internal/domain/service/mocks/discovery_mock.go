package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
)

// MockDiscoveryAuthority is a mock implementation of DiscoveryAuthority
type MockDiscoveryAuthority struct {
	mock.Mock
}

func (m *MockDiscoveryAuthority) LookupService(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	args := m.Called(ctx, env, slug, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TargetDescriptor), args.Error(1)
}

// MockResolver is a mock implementation of Resolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveTarget(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	args := m.Called(ctx, env, slug, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TargetDescriptor), args.Error(1)
}

var (
	_ service.DiscoveryAuthority = (*MockDiscoveryAuthority)(nil)
	_ service.Resolver           = (*MockResolver)(nil)
)
