// Package mocks provides test doubles for the llm client.
package mocks

import (
	"context"

	llm "github.com/dost0092/web-scraper-atomic/internal/llm"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Complete provides a mock function with given fields: ctx, req
func (_m *MockClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Complete")
	}

	var r0 *llm.Response
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) (*llm.Response, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, llm.Request) *llm.Response); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*llm.Response)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, llm.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Name returns a fixed provider name without recording a call.
func (_m *MockClient) Name() string {
	return "mock"
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
