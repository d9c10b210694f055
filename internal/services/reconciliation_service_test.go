package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/atlaspay/ledger/internal/database"
	"github.com/atlaspay/ledger/internal/models"
)

func expectReconSchema(m sqlmock.Sqlmock) {
	m.ExpectExec("CREATE TABLE IF NOT EXISTS reconciliation_results").
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("DELETE FROM reconciliation_results").
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS recon_results_day_idx").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestReconciliationService_Run(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	day := time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)

	t.Run("mismatch when totals diverge from closing balance", func(t *testing.T) {
		expectReconSchema(dbMock)
		dbMock.ExpectQuery("FROM ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"day", "credits", "debits"}).
				AddRow(day, 500.0, 300.0))
		dbMock.ExpectExec("INSERT INTO reconciliation_results").
			WithArgs(day, 500.0, 300.0, 150.0, 50.0, models.ReconStatusMismatch).
			WillReturnResult(sqlmock.NewResult(1, 1))

		balances := new(MockAccountStore)
		balances.On("TotalBalance", mock.Anything).Return(150.0, nil)

		service := NewReconciliationService(db, balances, nil)
		result, err := service.Run(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 1, result.Days)
		assert.Equal(t, 150.0, result.ClosingBalance)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("matched when difference is within tolerance", func(t *testing.T) {
		expectReconSchema(dbMock)
		dbMock.ExpectQuery("FROM ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"day", "credits", "debits"}).
				AddRow(day, 500.0, 300.0))
		dbMock.ExpectExec("INSERT INTO reconciliation_results").
			WithArgs(day, 500.0, 300.0, 200.0, 0.0, models.ReconStatusMatched).
			WillReturnResult(sqlmock.NewResult(1, 1))

		balances := new(MockAccountStore)
		balances.On("TotalBalance", mock.Anything).Return(200.0, nil)

		service := NewReconciliationService(db, balances, nil)
		result, err := service.Run(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 1, result.Days)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("rerun upserts the same rows", func(t *testing.T) {
		balances := new(MockAccountStore)
		balances.On("TotalBalance", mock.Anything).Return(150.0, nil)
		service := NewReconciliationService(db, balances, nil)

		for i := 0; i < 2; i++ {
			expectReconSchema(dbMock)
			dbMock.ExpectQuery("FROM ledger_entries").
				WillReturnRows(sqlmock.NewRows([]string{"day", "credits", "debits"}).
					AddRow(day, 500.0, 300.0))
			dbMock.ExpectExec("INSERT INTO reconciliation_results").
				WithArgs(day, 500.0, 300.0, 150.0, 50.0, models.ReconStatusMismatch).
				WillReturnResult(sqlmock.NewResult(1, 1))

			result, err := service.Run(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 1, result.Days)
		}
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unavailable read model falls back to zero closing balance", func(t *testing.T) {
		expectReconSchema(dbMock)
		dbMock.ExpectQuery("FROM ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"day", "credits", "debits"}).
				AddRow(day, 100.0, 100.0))
		dbMock.ExpectExec("INSERT INTO reconciliation_results").
			WithArgs(day, 100.0, 100.0, 0.0, 0.0, models.ReconStatusMatched).
			WillReturnResult(sqlmock.NewResult(1, 1))

		balances := new(MockAccountStore)
		balances.On("TotalBalance", mock.Anything).Return(0.0, errors.New("mongo unavailable"))

		service := NewReconciliationService(db, balances, nil)
		result, err := service.Run(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 0.0, result.ClosingBalance)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("evicts the cached report before recomputing", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		redisMock.ExpectDel(database.KeyReconReportCache).SetVal(1)

		expectReconSchema(dbMock)
		dbMock.ExpectQuery("FROM ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"day", "credits", "debits"}))

		service := NewReconciliationService(db, nil, rdb)
		result, err := service.Run(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 0, result.Days)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
