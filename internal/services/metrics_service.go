package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/atlaspay/ledger/internal/database"
	"github.com/atlaspay/ledger/internal/models"
)

const seriesMonths = 12

// ActiveAccountCounter reports how many read-model accounts are active.
type ActiveAccountCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

// MetricsService derives the live dashboard rollup from the authoritative
// stores and publishes it. Published snapshots are merged onto the last
// known one, so a partial update never erases previously computed fields.
type MetricsService struct {
	db       *sql.DB
	redis    *redis.Client
	accounts ActiveAccountCounter

	mu   sync.Mutex
	last models.MetricsSnapshot
}

// NewMetricsService creates the aggregator. redis and accounts may be nil;
// publishing is then skipped and the active-account count reports zero.
func NewMetricsService(db *sql.DB, rdb *redis.Client, accounts ActiveAccountCounter) *MetricsService {
	return &MetricsService{db: db, redis: rdb, accounts: accounts}
}

// Snapshot recomputes the full rollup from the ledger and the read model.
func (s *MetricsService) Snapshot(ctx context.Context) (models.MetricsSnapshot, error) {
	var snapshot models.MetricsSnapshot

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT tx_id) FROM ledger_entries`).Scan(&snapshot.Transactions)
	if err != nil {
		return snapshot, fmt.Errorf("count transactions: %w", err)
	}

	var volume float64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE direction='credit'`).Scan(&volume)
	if err != nil {
		return snapshot, fmt.Errorf("sum credited volume: %w", err)
	}
	snapshot.TotalVolume = round2(volume)

	series, err := s.monthlySeries(ctx)
	if err != nil {
		return snapshot, err
	}
	snapshot.Series = series

	// The read model is allowed to be unavailable; report zero instead of
	// failing the whole snapshot.
	if s.accounts != nil {
		if n, err := s.accounts.CountActive(ctx); err != nil {
			log.Printf("[METRICS] active account count unavailable: %v", err)
		} else {
			snapshot.ActiveAccounts = int(n)
		}
	}

	return snapshot, nil
}

// monthlySeries returns credited volume per month for the trailing twelve
// calendar months ending now, oldest first, zero-filled.
func (s *MetricsService) monthlySeries(ctx context.Context) ([]models.SeriesPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(YEAR FROM at)::int AS y,
		       EXTRACT(MONTH FROM at)::int AS m,
		       SUM(amount) AS total
		FROM ledger_entries
		WHERE direction = 'credit' AND at >= (now() - interval '12 months')
		GROUP BY y, m
		ORDER BY y ASC, m ASC`)
	if err != nil {
		return nil, fmt.Errorf("query monthly series: %w", err)
	}
	defer rows.Close()

	totals := make(map[[2]int]float64)
	for rows.Next() {
		var y, m int
		var total float64
		if err := rows.Scan(&y, &m, &total); err != nil {
			return nil, fmt.Errorf("scan monthly series row: %w", err)
		}
		totals[[2]int{y, m}] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monthly series: %w", err)
	}

	return buildSeries(time.Now().UTC(), totals), nil
}

// buildSeries zero-fills the trailing window ending at the month of now.
func buildSeries(now time.Time, totals map[[2]int]float64) []models.SeriesPoint {
	series := make([]models.SeriesPoint, 0, seriesMonths)
	for i := seriesMonths - 1; i >= 0; i-- {
		month := time.Date(now.Year(), now.Month()-time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		series = append(series, models.SeriesPoint{
			Name:  month.Month().String()[:3],
			Total: round2(totals[[2]int{month.Year(), int(month.Month())}]),
		})
	}
	return series
}

// PublishSnapshot recomputes the full rollup and publishes it.
func (s *MetricsService) PublishSnapshot(ctx context.Context) error {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	return s.Publish(ctx, snapshot.Update())
}

// Publish merges a possibly partial update onto the last known snapshot and
// publishes the merged result to the metrics channel.
func (s *MetricsService) Publish(ctx context.Context, update models.MetricsUpdate) error {
	s.mu.Lock()
	s.last = s.last.Merge(update)
	merged := s.last
	s.mu.Unlock()

	if s.redis == nil {
		return nil
	}

	body, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot: %w", err)
	}
	if err := s.redis.Publish(ctx, database.ChannelDashboardMetrics, body).Err(); err != nil {
		return fmt.Errorf("publish metrics snapshot: %w", err)
	}
	return nil
}

// PublishStartup publishes the initial snapshot and seeds the cached counter
// pair used by collaborators that cannot afford a live aggregate query.
func (s *MetricsService) PublishStartup(ctx context.Context) error {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, database.KeyMetricsTransactions, strconv.Itoa(snapshot.Transactions), 0).Err(); err != nil {
			return fmt.Errorf("seed transaction counter: %w", err)
		}
		if err := s.redis.Set(ctx, database.KeyMetricsVolume, strconv.FormatFloat(snapshot.TotalVolume, 'f', -1, 64), 0).Err(); err != nil {
			return fmt.Errorf("seed volume counter: %w", err)
		}
	}

	if err := s.Publish(ctx, snapshot.Update()); err != nil {
		return err
	}
	log.Println("[METRICS] published initial metrics snapshot")
	return nil
}

// Last returns the most recently published snapshot.
func (s *MetricsService) Last() models.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
