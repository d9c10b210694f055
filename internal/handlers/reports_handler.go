package handlers

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/atlaspay/ledger/internal/database"
	"github.com/atlaspay/ledger/internal/services"
)

const (
	reconReportCacheTTL = 20 * time.Second
	reconRunRateLimit   = 5 // per IP per minute
)

// ReportsHandler serves the reconciliation trigger and the report exports
// backed by the ledger store.
type ReportsHandler struct {
	db    *sql.DB
	redis *redis.Client
	recon *services.ReconciliationService
}

// NewReportsHandler creates the handler. redis may be nil; caching and rate
// limiting are then skipped.
func NewReportsHandler(db *sql.DB, rdb *redis.Client, recon *services.ReconciliationService) *ReportsHandler {
	return &ReportsHandler{db: db, redis: rdb, recon: recon}
}

// RunReconciliation triggers a reconciliation run.
// POST /api/v1/reconciliation/run
func (h *ReportsHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.redis != nil {
		key := "rl:recon:" + clientIP(r)
		count, err := h.redis.Incr(r.Context(), key).Result()
		if err != nil {
			log.Printf("[REPORTS] rate limit check failed: %v", err)
		} else {
			if count == 1 {
				h.redis.Expire(r.Context(), key, time.Minute)
			}
			if count > reconRunRateLimit {
				respondError(w, "rate_limited", http.StatusTooManyRequests)
				return
			}
		}
	}

	result, err := h.recon.Run(r.Context())
	if err != nil {
		log.Printf("[REPORTS] reconciliation run failed: %v", err)
		respondError(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":      true,
		"rows":    result.Days,
		"closing": result.ClosingBalance,
	})
}

// ReconciliationJSON serves the last 30 verdict rows, cached briefly.
// GET /api/v1/reports/reconciliation.json
func (h *ReportsHandler) ReconciliationJSON(w http.ResponseWriter, r *http.Request) {
	if h.redis != nil {
		cached, err := h.redis.Get(r.Context(), database.KeyReconReportCache).Result()
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
		if err != redis.Nil {
			log.Printf("[REPORTS] report cache read failed: %v", err)
		}
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT to_char(day, 'YYYY-MM-DD') AS day, credits, debits, closing_balance, difference, status
		FROM reconciliation_results
		ORDER BY day DESC
		LIMIT 30`)
	if err != nil {
		respondError(w, "failed to load reconciliation report", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type item struct {
		Day            string  `json:"day"`
		Credits        float64 `json:"credits"`
		Debits         float64 `json:"debits"`
		ClosingBalance float64 `json:"closing_balance"`
		Difference     float64 `json:"difference"`
		Status         string  `json:"status"`
	}
	items := []item{}
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.Day, &it.Credits, &it.Debits, &it.ClosingBalance, &it.Difference, &it.Status); err != nil {
			respondError(w, "failed to load reconciliation report", http.StatusInternalServerError)
			return
		}
		items = append(items, it)
	}

	body, err := json.Marshal(map[string]interface{}{"items": items})
	if err != nil {
		respondError(w, "failed to load reconciliation report", http.StatusInternalServerError)
		return
	}

	if h.redis != nil {
		if err := h.redis.Set(r.Context(), database.KeyReconReportCache, body, reconReportCacheTTL).Err(); err != nil {
			log.Printf("[REPORTS] report cache write failed: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// ReconciliationCSV exports verdict rows as CSV.
// GET /api/v1/reports/reconciliation.csv
func (h *ReportsHandler) ReconciliationCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT to_char(day, 'YYYY-MM-DD') AS day, credits, debits, closing_balance, difference, status
		FROM reconciliation_results
		ORDER BY day DESC
		LIMIT 1000`)
	if err != nil {
		respondError(w, "failed to export reconciliation report", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	writeCSV(w, "reconciliation.csv",
		[]string{"day", "credits", "debits", "closing_balance", "difference", "status"},
		func(emit func(...string) error) error {
			for rows.Next() {
				var day, status string
				var credits, debits, closing, difference float64
				if err := rows.Scan(&day, &credits, &debits, &closing, &difference, &status); err != nil {
					return err
				}
				if err := emit(day, money(credits), money(debits), money(closing), money(difference), status); err != nil {
					return err
				}
			}
			return rows.Err()
		})
}

// TransactionsCSV exports raw ledger postings.
// GET /api/v1/reports/transactions.csv
func (h *ReportsHandler) TransactionsCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT to_char(at, 'YYYY-MM-DD"T"HH24:MI:SSZ') AS at, tx_id, account_id, currency, amount, direction
		FROM ledger_entries
		ORDER BY at DESC
		LIMIT 1000`)
	if err != nil {
		respondError(w, "failed to export transactions", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	writeCSV(w, "transactions.csv",
		[]string{"at", "tx_id", "account_id", "currency", "amount", "direction"},
		func(emit func(...string) error) error {
			for rows.Next() {
				var at, txID, accountID, currency, direction string
				var amount float64
				if err := rows.Scan(&at, &txID, &accountID, &currency, &amount, &direction); err != nil {
					return err
				}
				if err := emit(at, txID, accountID, currency, money(amount), direction); err != nil {
					return err
				}
			}
			return rows.Err()
		})
}

// MonthlyCSV exports per-month credited volume and complaint counts.
// GET /api/v1/reports/monthly.csv
func (h *ReportsHandler) MonthlyCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT to_char(date_trunc('month', le.at), 'YYYY-MM') AS month,
		       COUNT(DISTINCT le.tx_id) AS tx_count,
		       COALESCE(SUM(le.amount), 0) AS total_credit,
		       COALESCE(SUM(CASE WHEN pm.complaints IS NOT NULL AND pm.complaints <> '' THEN 1 ELSE 0 END), 0) AS complaints_count
		FROM ledger_entries le
		LEFT JOIN payments_meta pm ON pm.tx_id = le.tx_id
		WHERE le.direction = 'credit'
		GROUP BY month
		ORDER BY month DESC
		LIMIT 12`)
	if err != nil {
		respondError(w, "failed to export monthly report", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	writeCSV(w, "monthly.csv",
		[]string{"month", "tx_count", "total_credit", "complaints_count"},
		func(emit func(...string) error) error {
			for rows.Next() {
				var month string
				var txCount, complaints int
				var totalCredit float64
				if err := rows.Scan(&month, &txCount, &totalCredit, &complaints); err != nil {
					return err
				}
				if err := emit(month, fmt.Sprintf("%d", txCount), money(totalCredit), fmt.Sprintf("%d", complaints)); err != nil {
					return err
				}
			}
			return rows.Err()
		})
}

// ComplaintsCSV exports transactions carrying a complaint.
// GET /api/v1/reports/complaints.csv
func (h *ReportsHandler) ComplaintsCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT to_char(le.at, 'YYYY-MM-DD"T"HH24:MI:SSZ') AS at, le.tx_id, pm.complaints
		FROM payments_meta pm
		JOIN ledger_entries le ON le.tx_id = pm.tx_id
		WHERE pm.complaints IS NOT NULL AND pm.complaints <> ''
		  AND le.direction = 'credit'
		ORDER BY le.at DESC
		LIMIT 1000`)
	if err != nil {
		respondError(w, "failed to export complaints", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	writeCSV(w, "complaints.csv",
		[]string{"at", "tx_id", "complaints"},
		func(emit func(...string) error) error {
			for rows.Next() {
				var at, txID, complaints string
				if err := rows.Scan(&at, &txID, &complaints); err != nil {
					return err
				}
				if err := emit(at, txID, complaints); err != nil {
					return err
				}
			}
			return rows.Err()
		})
}

func writeCSV(w http.ResponseWriter, filename string, header []string, body func(emit func(...string) error) error) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		log.Printf("[REPORTS] csv write failed: %v", err)
		return
	}
	err := body(func(fields ...string) error {
		return cw.Write(fields)
	})
	if err != nil {
		log.Printf("[REPORTS] csv export failed: %v", err)
	}
	cw.Flush()
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
