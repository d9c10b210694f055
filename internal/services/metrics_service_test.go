package services

import (
	"context"
	"encoding/json"
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

func expectSnapshotQueries(m sqlmock.Sqlmock, transactions int, volume float64, seriesRows *sqlmock.Rows) {
	m.ExpectQuery(`SELECT COUNT\(DISTINCT tx_id\) FROM ledger_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(transactions))
	m.ExpectQuery(`SELECT COALESCE\(SUM\(amount\),0\) FROM ledger_entries WHERE direction='credit'`).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(volume))
	m.ExpectQuery(`EXTRACT\(YEAR FROM at\)`).WillReturnRows(seriesRows)
}

func TestMetricsService_Snapshot(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("computes rollup from ledger and read model", func(t *testing.T) {
		now := time.Now().UTC()
		seriesRows := sqlmock.NewRows([]string{"y", "m", "total"}).
			AddRow(now.Year(), int(now.Month()), 250.5)
		expectSnapshotQueries(dbMock, 5, 1234.567, seriesRows)

		accounts := new(MockAccountStore)
		accounts.On("CountActive", mock.Anything).Return(int64(7), nil)

		service := NewMetricsService(db, nil, accounts)
		snapshot, err := service.Snapshot(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 5, snapshot.Transactions)
		assert.Equal(t, 1234.57, snapshot.TotalVolume)
		assert.Equal(t, 7, snapshot.ActiveAccounts)
		assert.Len(t, snapshot.Series, 12)
		assert.Equal(t, 250.5, snapshot.Series[11].Total)
		assert.Equal(t, now.Month().String()[:3], snapshot.Series[11].Name)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("read model outage reports zero active accounts", func(t *testing.T) {
		expectSnapshotQueries(dbMock, 2, 50, sqlmock.NewRows([]string{"y", "m", "total"}))

		accounts := new(MockAccountStore)
		accounts.On("CountActive", mock.Anything).Return(int64(0), errors.New("mongo unavailable"))

		service := NewMetricsService(db, nil, accounts)
		snapshot, err := service.Snapshot(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 0, snapshot.ActiveAccounts)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestBuildSeries(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	totals := map[[2]int]float64{
		{2024, 3}: 50,
		{2023, 4}: 25.004,
		{2023, 3}: 99, // outside the trailing window
	}

	series := buildSeries(now, totals)

	assert.Len(t, series, 12)
	assert.Equal(t, "Apr", series[0].Name)
	assert.Equal(t, 25.0, series[0].Total)
	assert.Equal(t, "Mar", series[11].Name)
	assert.Equal(t, 50.0, series[11].Total)
	for _, point := range series[1:11] {
		assert.Equal(t, 0.0, point.Total)
	}
}

func TestMetricsService_PublishMerges(t *testing.T) {
	service := NewMetricsService(nil, nil, nil)

	full := models.MetricsSnapshot{
		Transactions:   3,
		TotalVolume:    100,
		ActiveAccounts: 2,
		Series:         []models.SeriesPoint{{Name: "Aug", Total: 100}},
	}
	assert.NoError(t, service.Publish(context.Background(), full.Update()))

	// A narrower update must not erase previously computed fields.
	transactions := 5
	assert.NoError(t, service.Publish(context.Background(), models.MetricsUpdate{Transactions: &transactions}))

	merged := service.Last()
	assert.Equal(t, 5, merged.Transactions)
	assert.Equal(t, 100.0, merged.TotalVolume)
	assert.Equal(t, []models.SeriesPoint{{Name: "Aug", Total: 100}}, merged.Series)
}

func TestMetricsService_PublishStartup(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	expectSnapshotQueries(dbMock, 5, 100, sqlmock.NewRows([]string{"y", "m", "total"}))

	accounts := new(MockAccountStore)
	accounts.On("CountActive", mock.Anything).Return(int64(3), nil)

	rdb, redisMock := redismock.NewClientMock()
	expected := models.MetricsSnapshot{
		Transactions:   5,
		TotalVolume:    100,
		ActiveAccounts: 3,
		Series:         buildSeries(time.Now().UTC(), nil),
	}
	body, err := json.Marshal(expected)
	assert.NoError(t, err)

	redisMock.ExpectSet(database.KeyMetricsTransactions, "5", 0).SetVal("OK")
	redisMock.ExpectSet(database.KeyMetricsVolume, "100", 0).SetVal("OK")
	redisMock.ExpectPublish(database.ChannelDashboardMetrics, body).SetVal(1)

	service := NewMetricsService(db, rdb, accounts)
	assert.NoError(t, service.PublishStartup(context.Background()))

	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}
