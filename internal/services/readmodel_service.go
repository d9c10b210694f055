package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-redis/redis/v8"

	"github.com/atlaspay/ledger/internal/database"
	"github.com/atlaspay/ledger/internal/models"
)

// AccountReadModel is the slice of the document store the synchronizer
// needs: atomic balance increments plus display-metadata lookups.
type AccountReadModel interface {
	IncrementBalance(ctx context.Context, accountNumber string, delta float64) error
	FindAccount(ctx context.Context, accountNumber string) (*models.Account, error)
	FindCustomer(ctx context.Context, customerID string) (*models.Customer, error)
}

// ReadModelSyncService keeps the denormalized balances and the rolling
// recent-transaction feed in step with committed postings. Every operation
// is best-effort; errors are logged and swallowed because the ledger is
// authoritative and the projection self-heals.
type ReadModelSyncService struct {
	accounts AccountReadModel
	redis    *redis.Client
}

// NewReadModelSyncService creates the synchronizer. Either collaborator may
// be nil; the corresponding step is then skipped.
func NewReadModelSyncService(accounts AccountReadModel, rdb *redis.Client) *ReadModelSyncService {
	return &ReadModelSyncService{accounts: accounts, redis: rdb}
}

// Apply projects one committed payment onto the read model and the feed.
func (s *ReadModelSyncService) Apply(ctx context.Context, event *models.PaymentEvent) {
	payload := event.Payload

	if s.accounts != nil {
		if err := s.accounts.IncrementBalance(ctx, payload.FromAccount, -payload.Amount); err != nil {
			log.Printf("[READMODEL] balance update failed for %s: %v", payload.FromAccount, err)
		}
		if err := s.accounts.IncrementBalance(ctx, payload.ToAccount, payload.Amount); err != nil {
			log.Printf("[READMODEL] balance update failed for %s: %v", payload.ToAccount, err)
		}
	}

	debit := s.feedEntry(ctx, payload.FromAccount, -payload.Amount)
	credit := s.feedEntry(ctx, payload.ToAccount, payload.Amount)
	s.publishFeed(ctx, debit, credit)
}

// feedEntry builds one signed feed item, falling back to generated display
// metadata when the account or customer lookup misses.
func (s *ReadModelSyncService) feedEntry(ctx context.Context, accountNumber string, amount float64) models.FeedEntry {
	entry := models.FeedEntry{
		Name:   "Acct " + lastFour(accountNumber),
		Email:  accountNumber + "@example.com",
		Amount: formatSigned(amount),
	}
	if s.accounts == nil {
		return entry
	}

	account, err := s.accounts.FindAccount(ctx, accountNumber)
	if err != nil {
		log.Printf("[READMODEL] account lookup failed for %s: %v", accountNumber, err)
		return entry
	}
	if account == nil {
		return entry
	}
	if account.CustomerName != "" {
		entry.Name = account.CustomerName
	}

	customer, err := s.accounts.FindCustomer(ctx, account.CustomerID)
	if err != nil {
		log.Printf("[READMODEL] customer lookup failed for %s: %v", account.CustomerID, err)
		return entry
	}
	if customer != nil && customer.Email != "" {
		entry.Email = customer.Email
	}
	return entry
}

// publishFeed sends both entries to the live channel and front-inserts them
// onto the capped rolling list used to bootstrap late-joining viewers.
func (s *ReadModelSyncService) publishFeed(ctx context.Context, entries ...models.FeedEntry) {
	if s.redis == nil {
		return
	}
	for _, entry := range entries {
		body, err := json.Marshal(entry)
		if err != nil {
			log.Printf("[READMODEL] marshal feed entry: %v", err)
			continue
		}
		if err := s.redis.Publish(ctx, database.ChannelRecentFeed, body).Err(); err != nil {
			log.Printf("[READMODEL] feed publish failed: %v", err)
		}
		if err := s.redis.LPush(ctx, database.KeyRecentFeedList, body).Err(); err != nil {
			log.Printf("[READMODEL] feed list push failed: %v", err)
		}
	}
	if err := s.redis.LTrim(ctx, database.KeyRecentFeedList, 0, 9).Err(); err != nil {
		log.Printf("[READMODEL] feed list trim failed: %v", err)
	}
}

func lastFour(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return accountNumber[len(accountNumber)-4:]
}
