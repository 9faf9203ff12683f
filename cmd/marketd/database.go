package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/mutualaid/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/mutualaid/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

const (
	storeGorm      = "gorm"
	storePgx       = "pgx"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type backend struct {
	wallets ledger.Store
	rentals rental.Store
	ping    func(ctx context.Context) error
	cleanup func()
}

func openBackend(ctx context.Context, storeKind string, dsn string) (backend, error) {
	if storeKind == storePgx {
		return openPgxBackend(ctx, dsn)
	}
	gormDB, cleanup, driver, err := openDatabase(ctx, dsn)
	if err != nil {
		return backend{}, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return backend{}, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		_ = cleanup()
		return backend{}, err
	}
	store := gormstore.New(gormDB)
	return backend{
		wallets: store,
		rentals: store,
		ping:    sqlDB.PingContext,
		cleanup: func() { _ = cleanup() },
	}, nil
}

func openPgxBackend(ctx context.Context, dsn string) (backend, error) {
	driver, _, err := resolveDriver(dsn)
	if err != nil {
		return backend{}, err
	}
	if driver != driverPostgres {
		return backend{}, fmt.Errorf("store %q requires a postgres database url", storePgx)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return backend{}, fmt.Errorf("database open: %w", err)
	}
	if err := pgstore.Migrate(ctx, pool); err != nil {
		pool.Close()
		return backend{}, err
	}
	store := pgstore.New(pool)
	return backend{
		wallets: store,
		rentals: store,
		ping:    pool.Ping,
		cleanup: pool.Close,
	}, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "mutualaid.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if err := gormstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate %s: %w", driver, err)
	}
	return nil
}
