package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"roadmapper/logging"

	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path              string        `env:"DB_PATH" default:"./roadmapper.db"`
	MaxOpenConns      int           `env:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns      int           `env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime   time.Duration `env:"DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime   time.Duration `env:"DB_CONN_MAX_IDLE_TIME" default:"15m"`
	BusyTimeoutMs     int           `env:"DB_BUSY_TIMEOUT_MS" default:"5000"`
	EnableForeignKeys bool          `env:"DB_ENABLE_FOREIGN_KEYS" default:"true"`
	EnableWAL         bool          `env:"DB_ENABLE_WAL" default:"true"`
}

// Database wraps the SQL database connections and provides managed access.
// Reads go through a pooled connection set, writes through a single
// serialized connection, matching SQLite's single-writer model.
type Database struct {
	readDB  *sql.DB
	writeDB *sql.DB
	config  Config
	logger  *logging.Logger
}

// New creates a new Database instance with separate read/write connections
func New(config Config, logger *logging.Logger) (*Database, error) {
	dsn := buildDSN(config)

	dbExists := checkDatabaseExists(config.Path)

	logger.Database("Opening database connections",
		"path", config.Path,
		"exists", dbExists,
		"read_max_open_conns", config.MaxOpenConns,
		"write_max_open_conns", 1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read database: %w", err)
	}

	readDB.SetMaxOpenConns(config.MaxOpenConns)
	readDB.SetMaxIdleConns(config.MaxIdleConns)
	readDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	readDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		readDB.Close()
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}

	// Single connection forces write serialization
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	writeDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	database := &Database{
		readDB:  readDB,
		writeDB: writeDB,
		config:  config,
		logger:  logger,
	}

	if err := database.initialize(); err != nil {
		readDB.Close()
		writeDB.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := database.runMigrations(); err != nil {
		readDB.Close()
		writeDB.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	logger.Database("Database initialized successfully",
		"path", config.Path,
		"existed", dbExists,
		"wal_mode", config.EnableWAL)

	return database, nil
}

// buildDSN constructs the SQLite Data Source Name with proper parameters
func buildDSN(config Config) string {
	dsn := fmt.Sprintf("file:%s?", config.Path)

	dsn += fmt.Sprintf("_busy_timeout=%d", config.BusyTimeoutMs)

	if config.EnableWAL {
		dsn += "&_journal_mode=WAL"
	}

	if config.EnableForeignKeys {
		dsn += "&_foreign_keys=on"
	}

	dsn += "&_temp_store=memory"
	dsn += "&_synchronous=normal"

	return dsn
}

func checkDatabaseExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// initialize configures both database connections after creation
func (d *Database) initialize() error {
	if err := d.readDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping read database: %w", err)
	}
	if err := d.writeDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping write database: %w", err)
	}

	connections := []*sql.DB{d.readDB, d.writeDB}
	connectionTypes := []string{"read", "write"}

	for i, conn := range connections {
		connType := connectionTypes[i]

		if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", d.config.BusyTimeoutMs)); err != nil {
			return fmt.Errorf("failed to set busy_timeout on %s connection: %w", connType, err)
		}

		if d.config.EnableWAL {
			var journalMode string
			if err := conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
				return fmt.Errorf("failed to enable WAL mode on %s connection: %w", connType, err)
			}
			if journalMode != "wal" {
				d.logger.Warn("WAL mode not enabled", "connection", connType, "journal_mode", journalMode)
			}
		}
	}

	return nil
}

// ReadDB returns the read database connection
func (d *Database) ReadDB() *sql.DB {
	return d.readDB
}

// WriteDB returns the write database connection
func (d *Database) WriteDB() *sql.DB {
	return d.writeDB
}

// Close closes both database connections
func (d *Database) Close() error {
	d.logger.Database("Closing database connections")

	if d.config.EnableWAL {
		if _, err := d.writeDB.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
			d.logger.Warn("failed to checkpoint WAL", "error", err)
		}
	}

	var errs []error
	if err := d.readDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("read connection: %w", err))
	}
	if err := d.writeDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("write connection: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close connections: %v", errs)
	}
	return nil
}

// Health checks database connectivity and returns pool statistics
func (d *Database) Health() (map[string]interface{}, error) {
	if err := d.readDB.Ping(); err != nil {
		return nil, fmt.Errorf("read database ping failed: %w", err)
	}
	if err := d.writeDB.Ping(); err != nil {
		return nil, fmt.Errorf("write database ping failed: %w", err)
	}

	readStats := d.readDB.Stats()
	writeStats := d.writeDB.Stats()

	return map[string]interface{}{
		"read_open_connections":  readStats.OpenConnections,
		"read_in_use":            readStats.InUse,
		"read_idle":              readStats.Idle,
		"write_open_connections": writeStats.OpenConnections,
		"write_in_use":           writeStats.InUse,
	}, nil
}
