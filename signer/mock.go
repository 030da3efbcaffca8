package signer

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/trustnet/centerconf/interfaces"
)

// MockGateway mocks the SignerGateway interface.
type MockGateway struct {
	mock.Mock
}

// ListTokens mocks the ListTokens method.
func (m *MockGateway) ListTokens(ctx context.Context) ([]interfaces.Token, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Token), args.Error(1)
}

// GenerateKey mocks the GenerateKey method.
func (m *MockGateway) GenerateKey(ctx context.Context, tokenID string) (string, error) {
	args := m.Called(ctx, tokenID)
	return args.String(0), args.Error(1)
}

// DeleteKey mocks the DeleteKey method.
func (m *MockGateway) DeleteKey(ctx context.Context, keyID string, force bool) error {
	args := m.Called(ctx, keyID, force)
	return args.Error(0)
}

// InitializeToken mocks the InitializeToken method.
func (m *MockGateway) InitializeToken(ctx context.Context, tokenID string, pin []byte) error {
	args := m.Called(ctx, tokenID, pin)
	return args.Error(0)
}

// LogoutToken mocks the LogoutToken method.
func (m *MockGateway) LogoutToken(ctx context.Context, tokenID string) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}
