package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/atlaspay/ledger/internal/models"
)

// MockAccountStore stands in for the Mongo read model. It satisfies
// AccountReadModel, ActiveAccountCounter and BalanceSummer.
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) IncrementBalance(ctx context.Context, accountNumber string, delta float64) error {
	args := m.Called(ctx, accountNumber, delta)
	return args.Error(0)
}

func (m *MockAccountStore) FindAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	args := m.Called(ctx, accountNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountStore) FindCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

func (m *MockAccountStore) CountActive(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountStore) TotalBalance(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

// MockLedgerWrittenPublisher stands in for the broker publisher.
type MockLedgerWrittenPublisher struct {
	mock.Mock
}

func (m *MockLedgerWrittenPublisher) PublishLedgerWritten(ctx context.Context, event *models.PaymentEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockSnapshotPublisher stands in for the metrics aggregator.
type MockSnapshotPublisher struct {
	mock.Mock
}

func (m *MockSnapshotPublisher) PublishSnapshot(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
