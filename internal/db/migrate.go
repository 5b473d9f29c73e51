package db

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// Migrator applies the embedded schema migrations for one driver.
type Migrator struct {
	m      *migrate.Migrate
	driver string
}

// NewMigrator opens a migrator for driver ("postgres" or "sqlite"). For
// postgres dsn is a connection URL; for sqlite it is the database path.
func NewMigrator(driver, dsn string) (*Migrator, error) {
	src, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		return nil, eris.Wrapf(err, "db: migration source %s", driver)
	}

	var (
		conn *sql.DB
		m    *migrate.Migrate
	)
	switch driver {
	case "postgres":
		conn, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, eris.Wrap(err, "db: open postgres")
		}
		drv, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: "schema_migrations"})
		if err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "db: postgres migration driver")
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "db: new postgres migrator")
		}
	case "sqlite":
		conn, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, eris.Wrap(err, "db: open sqlite")
		}
		drv, err := sqlite.WithInstance(conn, &sqlite.Config{MigrationsTable: "schema_migrations"})
		if err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "db: sqlite migration driver")
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "db: new sqlite migrator")
		}
	default:
		return nil, eris.Errorf("db: unknown driver %q", driver)
	}

	return &Migrator{m: m, driver: driver}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (mg *Migrator) Up() error {
	err := mg.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		zap.L().Debug("db: schema up to date", zap.String("driver", mg.driver))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "db: migrate up %s", mg.driver)
	}
	zap.L().Info("db: migrations applied", zap.String("driver", mg.driver))
	return nil
}

// Down reverts every applied migration.
func (mg *Migrator) Down() error {
	err := mg.m.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return eris.Wrapf(err, "db: migrate down %s", mg.driver)
}

// Version returns the applied schema version and whether it is dirty.
// A database with no migrations applied reports version 0.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "db: migration version")
	}
	return v, dirty, nil
}

// Close releases the source and the migration connection.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return eris.Wrap(srcErr, "db: close migration source")
	}
	return eris.Wrap(dbErr, "db: close migration database")
}
