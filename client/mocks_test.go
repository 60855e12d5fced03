package client

import (
	"context"

	"github.com/programandonocosmos/cashtools-api/enrollment"
	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/stretchr/testify/mock"
)

type MockEnroller struct {
	mock.Mock
}

func (m *MockEnroller) RequestCode(ctx context.Context, login, secret string) (*enrollment.PendingEnrollment, error) {
	args := m.Called(ctx, login, secret)
	pending, _ := args.Get(0).(*enrollment.PendingEnrollment)
	return pending, args.Error(1)
}

func (m *MockEnroller) ExchangeCode(ctx context.Context, pending *enrollment.PendingEnrollment, code, outputDir string) (string, error) {
	args := m.Called(ctx, pending, code, outputDir)
	return args.String(0), args.Error(1)
}

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, identityPath, login, secret string) (*interfaces.AuthSession, error) {
	args := m.Called(ctx, identityPath, login, secret)
	session, _ := args.Get(0).(*interfaces.AuthSession)
	return session, args.Error(1)
}

func (m *MockAuthenticator) AuthenticateIdentity(ctx context.Context, archive []byte, login, secret string) (*interfaces.AuthSession, error) {
	args := m.Called(ctx, archive, login, secret)
	session, _ := args.Get(0).(*interfaces.AuthSession)
	return session, args.Error(1)
}
