// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/config"
)

// -- Transport Mock --

// MockTransport mocks the schemas.Transport interface.
type MockTransport struct {
	mock.Mock
}

// NewMockTransport is a convenience constructor.
func NewMockTransport() *MockTransport {
	return new(MockTransport)
}

// SendMessage records the probe request and returns the configured response.
func (m *MockTransport) SendMessage(ctx context.Context, tabID int, msg schemas.ProbeRequest, opts schemas.SendOptions) (*schemas.ProbeResponse, error) {
	args := m.Called(ctx, tabID, msg, opts)
	var resp *schemas.ProbeResponse
	if r := args.Get(0); r != nil {
		resp = r.(*schemas.ProbeResponse)
	}
	return resp, args.Error(1)
}

// GetAllFrames returns the configured frame list.
func (m *MockTransport) GetAllFrames(ctx context.Context, tabID int) ([]schemas.FrameInfo, error) {
	args := m.Called(ctx, tabID)
	var frames []schemas.FrameInfo
	if f := args.Get(0); f != nil {
		frames = f.([]schemas.FrameInfo)
	}
	return frames, args.Error(1)
}

// -- Matchers --

// ProbeFor matches a probe request by action and selector.
func ProbeFor(action schemas.ProbeAction, selector string) interface{} {
	return mock.MatchedBy(func(req schemas.ProbeRequest) bool {
		return req.Action == action && req.Selector == selector
	})
}

// ProbeAction matches any probe request with the given action.
func ProbeAction(action schemas.ProbeAction) interface{} {
	return mock.MatchedBy(func(req schemas.ProbeRequest) bool {
		return req.Action == action
	})
}

// InFrame matches SendOptions targeting a specific frame. A negative id
// matches the top frame (nil FrameID).
func InFrame(frameID int) interface{} {
	return mock.MatchedBy(func(opts schemas.SendOptions) bool {
		if frameID < 0 {
			return opts.FrameID == nil
		}
		return opts.FrameID != nil && *opts.FrameID == frameID
	})
}

// -- Config Mock --

// MockConfig mocks config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Selector() config.SelectorConfig {
	return m.Called().Get(0).(config.SelectorConfig)
}

func (m *MockConfig) Locator() config.LocatorConfig {
	return m.Called().Get(0).(config.LocatorConfig)
}

func (m *MockConfig) Executor() config.ExecutorConfig {
	return m.Called().Get(0).(config.ExecutorConfig)
}

func (m *MockConfig) Transport() config.TransportConfig {
	return m.Called().Get(0).(config.TransportConfig)
}

func (m *MockConfig) SetTransportKind(kind string)     { m.Called(kind) }
func (m *MockConfig) SetTransportRemoteURL(url string) { m.Called(url) }
func (m *MockConfig) SetDatabaseURL(url string)        { m.Called(url) }
