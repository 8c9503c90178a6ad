package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

var db *sql.DB

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
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "hash_auctions")
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

// schema is applied idempotently on startup. The auction row carries the
// denormalized highest-bid pointer so the bid pipeline can compare-and-set
// it in a single statement.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL,
		item_ref           TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'DRAFT',
		whitelist_open_at  TIMESTAMPTZ NOT NULL,
		whitelist_close_at TIMESTAMPTZ NOT NULL,
		start_at           TIMESTAMPTZ NOT NULL,
		end_at             TIMESTAMPTZ NOT NULL,
		floor_price        BIGINT NOT NULL,
		min_bid_increment  BIGINT NOT NULL,
		buy_now_price      BIGINT NOT NULL DEFAULT 0,
		whitelist_capacity INTEGER NOT NULL,
		whitelist_fee      BIGINT NOT NULL DEFAULT 0,
		highest_bid_id     TEXT,
		highest_bidder_id  TEXT,
		highest_amount     BIGINT,
		winner_id          TEXT,
		final_price        BIGINT,
		fired_offsets      INTEGER[] NOT NULL DEFAULT '{}',
		version            INTEGER NOT NULL DEFAULT 1,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_auctions_status ON auctions (status, end_at)`,
	`CREATE TABLE IF NOT EXISTS whitelist_entries (
		auction_id TEXT NOT NULL REFERENCES auctions (id),
		bidder_id  TEXT NOT NULL,
		paid_fee   BIGINT NOT NULL DEFAULT 0,
		joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (auction_id, bidder_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id         TEXT PRIMARY KEY,
		auction_id TEXT NOT NULL REFERENCES auctions (id),
		bidder_id  TEXT NOT NULL,
		amount     BIGINT NOT NULL,
		type       TEXT NOT NULL,
		status     TEXT NOT NULL,
		placed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids (auction_id, placed_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_accounts (
		bidder_id  TEXT PRIMARY KEY,
		available  BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
		held       BIGINT NOT NULL DEFAULT 0 CHECK (held >= 0),
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id         SERIAL PRIMARY KEY,
		bidder_id  TEXT NOT NULL,
		auction_id TEXT,
		amount     BIGINT NOT NULL,
		entry_type TEXT NOT NULL,
		available  BIGINT NOT NULL,
		held       BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_bidder ON ledger_entries (bidder_id, auction_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		auction_id   TEXT NOT NULL,
		type         TEXT NOT NULL,
		payload      JSONB NOT NULL,
		state        TEXT NOT NULL DEFAULT 'WAITING',
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error   TEXT NOT NULL DEFAULT '',
		next_run_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs (state, next_run_at, enqueued_at)`,
}

// InitDB opens the connection pool and applies the schema.
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := EnsureSchema(db); err != nil {
		return nil, fmt.Errorf("error applying schema: %w", err)
	}

	log.Println("Database connection established")
	return db, nil
}

// EnsureSchema applies the auction schema. Every statement is idempotent
// so repeated startups are safe.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes database with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}
