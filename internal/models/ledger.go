package models

import (
	"time"
)

// Direction of a ledger posting.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// LedgerPosting is one row of the append-only double-entry ledger. For every
// committed transaction id exactly one debit and one credit posting exist,
// both with the same amount and currency.
type LedgerPosting struct {
	ID        int       `json:"id" db:"id"`
	TxID      string    `json:"tx_id" db:"tx_id"`
	At        time.Time `json:"at" db:"at"`
	AccountID string    `json:"account_id" db:"account_id"`
	Currency  string    `json:"currency" db:"currency"`
	Amount    float64   `json:"amount" db:"amount"`
	Direction Direction `json:"direction" db:"direction"`
}

// PaymentMeta holds free-text metadata attached to a transaction. Upserted,
// last write wins.
type PaymentMeta struct {
	TxID       string `json:"tx_id" db:"tx_id"`
	Remarks    string `json:"remarks" db:"remarks"`
	Complaints string `json:"complaints" db:"complaints"`
}

// Reconciliation verdicts.
const (
	ReconStatusMatched  = "MATCHED"
	ReconStatusMismatch = "MISMATCH"
)

// ReconciliationResult is the persisted verdict for one calendar day.
type ReconciliationResult struct {
	Day            time.Time `json:"day" db:"day"`
	Credits        float64   `json:"credits" db:"credits"`
	Debits         float64   `json:"debits" db:"debits"`
	ClosingBalance float64   `json:"closing_balance" db:"closing_balance"`
	Difference     float64   `json:"difference" db:"difference"`
	Status         string    `json:"status" db:"status"`
}

// Account is the denormalized read-model document, keyed by account number.
// Balance is a derived projection, not the source of truth.
type Account struct {
	AccountNumber string  `bson:"accountNumber" json:"accountNumber"`
	Balance       float64 `bson:"balance" json:"balance"`
	Status        string  `bson:"status" json:"status"`
	CustomerID    string  `bson:"customerId" json:"customerId"`
	CustomerName  string  `bson:"customerName" json:"customerName"`
}

// Customer holds the display metadata owned by an account holder.
type Customer struct {
	CustomerID string `bson:"customerId" json:"customerId"`
	Email      string `bson:"email" json:"email"`
}

// FeedEntry is one signed item on the live transaction feed.
type FeedEntry struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Amount string `json:"amount"`
}
