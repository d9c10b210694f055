package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/atlaspay/ledger/internal/database"
	"github.com/atlaspay/ledger/internal/models"
)

func feedBody(t *testing.T, entry models.FeedEntry) []byte {
	t.Helper()
	body, err := json.Marshal(entry)
	assert.NoError(t, err)
	return body
}

func TestReadModelSyncService_Apply(t *testing.T) {
	t.Run("adjusts balances and publishes both feed sides", func(t *testing.T) {
		event := paymentEvent("tx-10")

		accounts := new(MockAccountStore)
		accounts.On("IncrementBalance", mock.Anything, "ACC1", -100.0).Return(nil)
		accounts.On("IncrementBalance", mock.Anything, "ACC2", 100.0).Return(nil)
		accounts.On("FindAccount", mock.Anything, "ACC1").Return(&models.Account{
			AccountNumber: "ACC1", CustomerID: "c1", CustomerName: "Alice Mensah",
		}, nil)
		accounts.On("FindCustomer", mock.Anything, "c1").Return(&models.Customer{
			CustomerID: "c1", Email: "alice@example.org",
		}, nil)
		// The credit side misses both lookups and falls back.
		accounts.On("FindAccount", mock.Anything, "ACC2").Return(nil, nil)

		debit := feedBody(t, models.FeedEntry{Name: "Alice Mensah", Email: "alice@example.org", Amount: "-$100.00"})
		credit := feedBody(t, models.FeedEntry{Name: "Acct ACC2", Email: "ACC2@example.com", Amount: "+$100.00"})

		rdb, redisMock := redismock.NewClientMock()
		redisMock.ExpectPublish(database.ChannelRecentFeed, debit).SetVal(1)
		redisMock.ExpectLPush(database.KeyRecentFeedList, debit).SetVal(1)
		redisMock.ExpectPublish(database.ChannelRecentFeed, credit).SetVal(1)
		redisMock.ExpectLPush(database.KeyRecentFeedList, credit).SetVal(2)
		redisMock.ExpectLTrim(database.KeyRecentFeedList, 0, 9).SetVal("OK")

		service := NewReadModelSyncService(accounts, rdb)
		service.Apply(context.Background(), event)

		accounts.AssertExpectations(t)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("store failures never escape", func(t *testing.T) {
		event := paymentEvent("tx-11")

		accounts := new(MockAccountStore)
		accounts.On("IncrementBalance", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("write concern failed"))
		accounts.On("FindAccount", mock.Anything, mock.Anything).Return(nil, errors.New("mongo unavailable"))

		service := NewReadModelSyncService(accounts, nil)
		assert.NotPanics(t, func() {
			service.Apply(context.Background(), event)
		})
		accounts.AssertExpectations(t)
	})

	t.Run("nil collaborators are skipped", func(t *testing.T) {
		service := NewReadModelSyncService(nil, nil)
		assert.NotPanics(t, func() {
			service.Apply(context.Background(), paymentEvent("tx-12"))
		})
	})
}

func TestFeedEntryFallbacks(t *testing.T) {
	accounts := new(MockAccountStore)
	accounts.On("FindAccount", mock.Anything, "1234567890").Return(nil, nil)

	service := NewReadModelSyncService(accounts, nil)
	entry := service.feedEntry(context.Background(), "1234567890", -42.5)

	assert.Equal(t, "Acct 7890", entry.Name)
	assert.Equal(t, "1234567890@example.com", entry.Email)
	assert.Equal(t, "-$42.50", entry.Amount)
}

func TestFormatSigned(t *testing.T) {
	assert.Equal(t, "+$100.00", formatSigned(100))
	assert.Equal(t, "-$0.99", formatSigned(-0.99))
}
