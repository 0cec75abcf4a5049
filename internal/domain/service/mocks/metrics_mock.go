package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockMetrics is a mock implementation of Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordCacheAccess(cache, outcome string) {
	m.Called(cache, outcome)
}

func (m *MockMetrics) RecordSign(kid string, duration time.Duration, err error) {
	m.Called(kid, duration, err)
}

func (m *MockMetrics) RecordResolve(env string, duration time.Duration, err error) {
	m.Called(env, duration, err)
}

func (m *MockMetrics) RecordDispatch(slug string, status int, duration time.Duration, errorCode string) {
	m.Called(slug, status, duration, errorCode)
}
