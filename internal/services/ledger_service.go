package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/atlaspay/ledger/internal/models"
)

// LedgerWrittenPublisher notifies downstream consumers after a commit.
type LedgerWrittenPublisher interface {
	PublishLedgerWritten(ctx context.Context, event *models.PaymentEvent) error
}

// SnapshotPublisher recomputes and publishes the dashboard rollup.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context) error
}

// ReadModelApplier projects a committed posting pair onto the read model.
// It never reports failure; the read model self-heals.
type ReadModelApplier interface {
	Apply(ctx context.Context, event *models.PaymentEvent)
}

// LedgerService converts payment events into paired debit/credit postings.
// The ledger is the source of truth: everything downstream of the commit is
// best-effort.
type LedgerService struct {
	db        *sql.DB
	publisher LedgerWrittenPublisher
	metrics   SnapshotPublisher
	readModel ReadModelApplier
}

// NewLedgerService creates the processor. Any collaborator may be nil, in
// which case its post-commit step is skipped.
func NewLedgerService(db *sql.DB, publisher LedgerWrittenPublisher, metrics SnapshotPublisher, readModel ReadModelApplier) *LedgerService {
	return &LedgerService{
		db:        db,
		publisher: publisher,
		metrics:   metrics,
		readModel: readModel,
	}
}

// Process writes both postings and the payment metadata atomically, then
// dispatches the post-commit side effects. Re-delivery of an already
// committed event is a no-op: both inserts land on the unique
// (tx_id, account_id, direction) index and are silently skipped.
func (s *LedgerService) Process(ctx context.Context, event *models.PaymentEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertPosting(ctx, tx, event, event.Payload.FromAccount, models.DirectionDebit); err != nil {
		return err
	}
	if err := s.insertPosting(ctx, tx, event, event.Payload.ToAccount, models.DirectionCredit); err != nil {
		return err
	}
	if err := s.upsertMeta(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}

	s.dispatchPostCommit(ctx, event)
	return nil
}

func (s *LedgerService) insertPosting(ctx context.Context, tx *sql.Tx, event *models.PaymentEvent, accountID string, direction models.Direction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (tx_id, at, account_id, currency, amount, direction)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_id, account_id, direction) DO NOTHING`,
		event.EventID, event.At, accountID, event.Payload.Currency, event.Payload.Amount, string(direction))
	if err != nil {
		return fmt.Errorf("insert %s posting for %s: %w", direction, event.EventID, err)
	}
	return nil
}

func (s *LedgerService) upsertMeta(ctx context.Context, tx *sql.Tx, event *models.PaymentEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments_meta (tx_id, remarks, complaints)
		VALUES ($1, $2, $3)
		ON CONFLICT (tx_id) DO UPDATE SET remarks = EXCLUDED.remarks, complaints = EXCLUDED.complaints`,
		event.EventID, event.Payload.Remarks, event.Payload.Complaints)
	if err != nil {
		return fmt.Errorf("upsert payment meta for %s: %w", event.EventID, err)
	}
	return nil
}

// dispatchPostCommit runs the best-effort side effects. Failures here are
// logged and swallowed: they never roll back the committed ledger state and
// never block acknowledgment of the input event.
func (s *LedgerService) dispatchPostCommit(ctx context.Context, event *models.PaymentEvent) {
	if s.publisher != nil {
		if err := s.publisher.PublishLedgerWritten(ctx, event); err != nil {
			log.Printf("[LEDGER] ledger.written publish failed for %s: %v", event.EventID, err)
		}
	}
	if s.metrics != nil {
		if err := s.metrics.PublishSnapshot(ctx); err != nil {
			log.Printf("[LEDGER] metrics snapshot failed after %s: %v", event.EventID, err)
		}
	}
	if s.readModel != nil {
		s.readModel.Apply(ctx, event)
	}
}
