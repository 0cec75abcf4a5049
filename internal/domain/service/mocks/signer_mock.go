package mocks

import (
	"context"
	"crypto"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
)

// MockSignAuthority is a mock implementation of SignAuthority
type MockSignAuthority struct {
	mock.Mock
}

func (m *MockSignAuthority) AsymmetricSign(ctx context.Context, keyVersionName string, digest service.Digest) ([]byte, error) {
	args := m.Called(ctx, keyVersionName, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSignAuthority) GetPublicKey(ctx context.Context, keyVersionName string) (crypto.PublicKey, error) {
	args := m.Called(ctx, keyVersionName)
	return args.Get(0), args.Error(1)
}

// MockTokenSigner is a mock implementation of TokenSigner
type MockTokenSigner struct {
	mock.Mock
}

func (m *MockTokenSigner) Sign(ctx context.Context, header, payload map[string]interface{}) (*models.SignedToken, error) {
	args := m.Called(ctx, header, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SignedToken), args.Error(1)
}

func (m *MockTokenSigner) Alg() string {
	return m.Called().String(0)
}

func (m *MockTokenSigner) KID() string {
	return m.Called().String(0)
}

var (
	_ service.SignAuthority = (*MockSignAuthority)(nil)
	_ service.TokenSigner   = (*MockTokenSigner)(nil)
)
