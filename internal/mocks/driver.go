// File: internal/mocks/driver.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/mender/api/schemas"
)

// -- Driver Mock --

// MockDriver mocks schemas.Driver.
type MockDriver struct {
	mock.Mock
}

var _ schemas.Driver = (*MockDriver)(nil)

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockDriver) QueryBySelector(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	args := m.Called(ctx, selector)
	var handles []schemas.ElementHandle
	if v := args.Get(0); v != nil {
		handles = v.([]schemas.ElementHandle)
	}
	return handles, args.Error(1)
}

func (m *MockDriver) QueryCandidatesByTag(ctx context.Context, tag string, limit int) ([]schemas.Candidate, error) {
	args := m.Called(ctx, tag, limit)
	var candidates []schemas.Candidate
	if v := args.Get(0); v != nil {
		candidates = v.([]schemas.Candidate)
	}
	return candidates, args.Error(1)
}

func (m *MockDriver) GetFingerprint(ctx context.Context, h schemas.ElementHandle) (schemas.ElementFingerprint, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(schemas.ElementFingerprint), args.Error(1)
}

func (m *MockDriver) Click(ctx context.Context, h schemas.ElementHandle) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockDriver) Type(ctx context.Context, h schemas.ElementHandle, text string) error {
	args := m.Called(ctx, h, text)
	return args.Error(0)
}

func (m *MockDriver) GetText(ctx context.Context, h schemas.ElementHandle) (string, error) {
	args := m.Called(ctx, h)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	args := m.Called(ctx, h)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var buf []byte
	if v := args.Get(0); v != nil {
		buf = v.([]byte)
	}
	return buf, args.Error(1)
}

// -- Driver Factory Mock --

// MockDriverFactory mocks schemas.DriverFactory.
type MockDriverFactory struct {
	mock.Mock
}

func (m *MockDriverFactory) NewDriver(ctx context.Context) (schemas.Driver, func(), error) {
	args := m.Called(ctx)
	var drv schemas.Driver
	if v := args.Get(0); v != nil {
		drv = v.(schemas.Driver)
	}
	release := func() {}
	if v := args.Get(1); v != nil {
		release = v.(func())
	}
	return drv, release, args.Error(2)
}
