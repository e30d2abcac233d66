// Package db opens the gorm connection (postgres via pgx or sqlite) used by the run core.
// Every timestamp is written and scanned in UTC.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool defaults per dialect.
const (
	defaultPostgresConns = 25
	defaultSQLiteConns   = 10
	connMaxLifetime      = 30 * time.Minute
	pingTimeout          = 5 * time.Second
)

// sqliteParams are appended to sqlite DSNs that do not set them.
var sqliteParams = map[string]string{
	"_busy_timeout": "5000",
	"_journal_mode": "WAL",
	"_foreign_keys": "on",
	"_synchronous":  "NORMAL",
}

// Options tunes the connection pool. Zero values keep the defaults.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
}

func (o Options) withDefaults(conns int) Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = conns
	}
	if o.MaxIdleConns <= 0 || o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = o.MaxOpenConns
	}
	return o
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(log.StandardLogger(), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Open opens a GORM connection based on the provided DSN.
func Open(dsn string) (*gorm.DB, error) {
	return OpenWithOptions(dsn, Options{})
}

// OpenWithOptions opens a GORM connection and applies pool options.
func OpenWithOptions(dsn string, opts Options) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	dialect, err := detectDialectFromDSN(trimmed)
	if err != nil {
		return nil, err
	}
	if dialect == DialectPostgres {
		return openPostgres(trimmed, opts.withDefaults(defaultPostgresConns))
	}
	return openSQLite(trimmed, opts.withDefaults(defaultSQLiteConns))
}

// Close releases the underlying sql.DB.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}

// detectDialectFromDSN infers the dialect from a DSN string.
func detectDialectFromDSN(dsn string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, nil
	case strings.Contains(lower, "host="), strings.Contains(lower, "dbname="), strings.Contains(lower, "sslmode="):
		return DialectPostgres, nil
	case strings.HasPrefix(lower, "file:"), strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "sqlite3://"):
		return DialectSQLite, nil
	case !strings.Contains(lower, "://"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("db: unsupported dsn: %s", dsn)
	}
}

func openPostgres(dsn string, opts Options) (*gorm.DB, error) {
	cfg, errParse := pgx.ParseConfig(dsn)
	if errParse != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", errParse)
	}
	cfg.RuntimeParams["timezone"] = "UTC"
	sqlDB := stdlib.OpenDB(*cfg, stdlib.OptionAfterConnect(scanTimesInUTC))

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if errPool := configurePool(sqlDB, opts); errPool != nil {
		return nil, errPool
	}
	return conn, nil
}

// scanTimesInUTC makes pgx return timestamp columns in UTC regardless of the host zone.
func scanTimesInUTC(_ context.Context, conn *pgx.Conn) error {
	conn.TypeMap().RegisterType(&pgtype.Type{
		Name:  "timestamp",
		OID:   pgtype.TimestampOID,
		Codec: &pgtype.TimestampCodec{ScanLocation: time.UTC},
	})
	conn.TypeMap().RegisterType(&pgtype.Type{
		Name:  "timestamptz",
		OID:   pgtype.TimestamptzOID,
		Codec: &pgtype.TimestamptzCodec{ScanLocation: time.UTC},
	})
	return nil
}

func openSQLite(dsn string, opts Options) (*gorm.DB, error) {
	normalized := withSQLiteParams(normalizeSQLiteDSN(dsn))
	if path := sqlitePathFromDSN(normalized); path != "" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
				return nil, fmt.Errorf("db: create sqlite dir: %w", errMkdir)
			}
		}
	}

	conn, err := gorm.Open(sqlite.Open(normalized), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite sql: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, errExec := sqlDB.Exec(pragma); errExec != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("db: sqlite pragma %s: %w", pragma, errExec)
		}
	}
	if errPool := configurePool(sqlDB, opts); errPool != nil {
		return nil, errPool
	}
	return conn, nil
}

// configurePool applies pool limits and verifies the connection; sqlDB is closed on failure.
func configurePool(sqlDB *sql.DB, opts Options) error {
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("db: ping: %w", errPing)
	}
	return nil
}

// normalizeSQLiteDSN turns sqlite:// URLs into file: DSNs.
func normalizeSQLiteDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	scheme, rest, found := strings.Cut(trimmed, "://")
	if !found {
		return trimmed
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return "file:" + rest
	default:
		return trimmed
	}
}

// withSQLiteParams appends the default sqlite parameters the DSN does not already set.
func withSQLiteParams(dsn string) string {
	if dsn == "" {
		return dsn
	}
	_, query, hasQuery := strings.Cut(strings.ToLower(dsn), "?")
	present := map[string]bool{}
	if hasQuery {
		for _, part := range strings.Split(query, "&") {
			key, _, _ := strings.Cut(part, "=")
			present[key] = true
		}
	}

	keys := make([]string, 0, len(sqliteParams))
	for key := range sqliteParams {
		if !present[key] {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return dsn
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+sqliteParams[key])
	}
	separator := "?"
	if hasQuery {
		separator = "&"
	}
	return dsn + separator + strings.Join(pairs, "&")
}

// sqlitePathFromDSN returns the database file of a sqlite DSN, or "" for in-memory databases.
func sqlitePathFromDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if rest, ok := strings.CutPrefix(trimmed, "file:"); ok {
		path, _, _ := strings.Cut(rest, "?")
		path = strings.TrimPrefix(path, "//")
		if path == ":memory:" {
			return ""
		}
		return path
	}
	if trimmed == ":memory:" || strings.Contains(trimmed, "://") {
		return ""
	}
	path, _, _ := strings.Cut(trimmed, "?")
	return path
}
