// Package mocks provides test doubles for the gemini client.
package mocks

import (
	"context"

	gemini "github.com/sells-group/deep-research/pkg/gemini"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// GroundedSearch provides a mock function with given fields: ctx, req
func (_m *MockClient) GroundedSearch(ctx context.Context, req gemini.GroundedSearchRequest) (*gemini.GroundedSearchResponse, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for GroundedSearch")
	}

	var r0 *gemini.GroundedSearchResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, gemini.GroundedSearchRequest) (*gemini.GroundedSearchResponse, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, gemini.GroundedSearchRequest) *gemini.GroundedSearchResponse); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*gemini.GroundedSearchResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, gemini.GroundedSearchRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
