package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/atlaspay/ledger/internal/models"
)

const (
	accountsCollection  = "accounts"
	customersCollection = "customers"
)

// AccountStore wraps the Mongo read-model collections used by the
// synchronizer, the metrics aggregator and the reconciliation engine.
type AccountStore struct {
	db *mongo.Database
}

// NewAccountStore creates an AccountStore over the read-model database.
func NewAccountStore(db *mongo.Database) *AccountStore {
	return &AccountStore{db: db}
}

// IncrementBalance applies an atomic $inc to an account's balance. The
// increment is never a read-modify-write, so concurrent postings touching
// the same account cannot lose updates.
func (s *AccountStore) IncrementBalance(ctx context.Context, accountNumber string, delta float64) error {
	_, err := s.db.Collection(accountsCollection).UpdateOne(ctx,
		bson.M{"accountNumber": accountNumber},
		bson.M{"$inc": bson.M{"balance": delta}})
	if err != nil {
		return fmt.Errorf("increment balance for %s: %w", accountNumber, err)
	}
	return nil
}

// FindAccount looks up an account document. A missing account is a (nil, nil)
// result, not an error, so callers can apply display fallbacks.
func (s *AccountStore) FindAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	var account models.Account
	err := s.db.Collection(accountsCollection).
		FindOne(ctx, bson.M{"accountNumber": accountNumber}).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account %s: %w", accountNumber, err)
	}
	return &account, nil
}

// FindCustomer looks up the customer owning an account. Missing customers
// are (nil, nil), same as FindAccount.
func (s *AccountStore) FindCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.Collection(customersCollection).
		FindOne(ctx, bson.M{"customerId": customerID}).Decode(&customer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find customer %s: %w", customerID, err)
	}
	return &customer, nil
}

// CountActive returns the number of accounts with status Active.
func (s *AccountStore) CountActive(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(accountsCollection).CountDocuments(ctx, bson.M{"status": "Active"})
	if err != nil {
		return 0, fmt.Errorf("count active accounts: %w", err)
	}
	return n, nil
}

// TotalBalance sums the balance field across every account document. This is
// the single global closing balance used by the reconciliation engine.
func (s *AccountStore) TotalBalance(ctx context.Context) (float64, error) {
	cursor, err := s.db.Collection(accountsCollection).Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "bal", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$toDouble", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$balance", 0}}}},
			}}}},
		}}},
	})
	if err != nil {
		return 0, fmt.Errorf("aggregate closing balance: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Bal float64 `bson:"bal"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("decode closing balance: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Bal, nil
}
