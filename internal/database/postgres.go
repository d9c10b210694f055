package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "atlas")
	viper.SetDefault("database.password", "atlas")
	viper.SetDefault("database.name", "atlas_ledger")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// InitDB opens the ledger database and verifies the connection. The pool is
// shared by the event processor and the reconciliation engine.
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.Println("Database connection established")
	return db, nil
}

// InitDatabase initializes database with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

// Migrate creates the ledger schema. The unique index on
// (tx_id, account_id, direction) is what makes posting insertion idempotent
// under at-least-once delivery.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id SERIAL PRIMARY KEY,
			tx_id VARCHAR(64) NOT NULL,
			at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			account_id VARCHAR(64) NOT NULL,
			currency VARCHAR(8) NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			direction VARCHAR(6) NOT NULL CHECK (direction IN ('debit','credit'))
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_tx ON ledger_entries(tx_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id);
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_ledger_tx_acc_dir ON ledger_entries(tx_id, account_id, direction);
		CREATE TABLE IF NOT EXISTS payments_meta (
			tx_id VARCHAR(64) PRIMARY KEY,
			remarks TEXT NULL,
			complaints TEXT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}
