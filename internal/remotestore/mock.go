package remotestore

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRemoteStore struct {
	mock.Mock
}

func (m *MockRemoteStore) Insert(ctx context.Context, table string, row any, dest any) error {
	args := m.Called(ctx, table, row, dest)
	return args.Error(0)
}

func (m *MockRemoteStore) InsertBatch(ctx context.Context, table string, rows any) error {
	args := m.Called(ctx, table, rows)
	return args.Error(0)
}

func (m *MockRemoteStore) Update(ctx context.Context, table, id string, fields map[string]any) error {
	args := m.Called(ctx, table, id, fields)
	return args.Error(0)
}

func (m *MockRemoteStore) Delete(ctx context.Context, table, id string) error {
	args := m.Called(ctx, table, id)
	return args.Error(0)
}

func (m *MockRemoteStore) SelectOne(ctx context.Context, table, id string, dest any) error {
	args := m.Called(ctx, table, id, dest)
	return args.Error(0)
}

func (m *MockRemoteStore) SelectMany(ctx context.Context, table string, q Query, dest any) error {
	args := m.Called(ctx, table, q, dest)
	return args.Error(0)
}

func (m *MockRemoteStore) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(AuthResult), args.Error(1)
}

func (m *MockRemoteStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
