package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/spending"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	storeGorm = "gorm"
	storePGX  = "pgx"

	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	sqliteInMemory    = ":memory:"
	defaultSQLiteFile = "points.db"
)

// databaseTarget is a parsed --database-url. For sqlite, location is a file
// path or ":memory:".
type databaseTarget struct {
	driver   string
	location string
}

func openSource(ctx context.Context, cfg *runtimeConfig) (ledger.EventSource, func(), error) {
	if cfg.DatabaseURL == "" {
		return spending.NewFileSource(cfg.File), func() {}, nil
	}
	target, err := parseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store == storePGX {
		if target.driver != driverPostgres {
			return nil, nil, fmt.Errorf("%s %q requires a PostgreSQL database url", flagStore, storePGX)
		}
		return openPGXStore(ctx, target.location)
	}
	return openGormStore(ctx, target)
}

func openPGXStore(ctx context.Context, dsn string) (ledger.EventSource, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	store := pgstore.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func openGormStore(ctx context.Context, target databaseTarget) (ledger.EventSource, func(), error) {
	var dialector gorm.Dialector
	if target.driver == driverPostgres {
		dialector = postgres.Open(target.location)
	} else {
		dialector = sqlite.Open(target.location)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	cleanup := func() { _ = sqlDB.Close() }
	store := gormstore.New(db)
	if err := store.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

// parseDatabaseURL accepts postgres:// and postgresql:// URLs, sqlite://PATH,
// and a bare sqlite file path.
func parseDatabaseURL(raw string) (databaseTarget, error) {
	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		return sqliteTarget(raw)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return databaseTarget{driver: driverPostgres, location: raw}, nil
	case driverSQLite:
		return sqliteTarget(rest)
	default:
		return databaseTarget{}, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

// sqliteTarget creates the parent directory of a file database.
func sqliteTarget(path string) (databaseTarget, error) {
	switch path {
	case "":
		path = defaultSQLiteFile
	case sqliteInMemory:
		return databaseTarget{driver: driverSQLite, location: path}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return databaseTarget{}, fmt.Errorf("sqlite directory: %w", err)
	}
	return databaseTarget{driver: driverSQLite, location: path}, nil
}
