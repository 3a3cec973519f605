package postgres

import (
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migration source
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// Migrator applies schema migrations from a directory of golang-migrate SQL
// pair files.  It runs over the live connection pool so that startup needs no
// second set of credentials.
type Migrator struct {
	conn   *Connection
	path   string
	logger logging.Logger
}

// NewMigrator builds a Migrator reading migrations from migrationsPath.
func NewMigrator(conn *Connection, migrationsPath string, log logging.Logger) *Migrator {
	return &Migrator{conn: conn, path: migrationsPath, logger: log}
}

// instance builds a fresh migrate.Migrate on each call; golang-migrate
// instances are single-use after Close.
func (m *Migrator) instance() (*migrate.Migrate, error) {
	db := stdlib.OpenDBFromPool(m.conn.Pool())
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migration driver")
	}
	inst, err := migrate.NewWithDatabaseInstance("file://"+m.path, "pgx", driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migrate instance")
	}
	return inst, nil
}

// Up applies all pending migrations.  A schema already at the latest version
// is not an error.
func (m *Migrator) Up() error {
	inst, err := m.instance()
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to run migrations")
	}

	version, dirty, err := inst.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		m.logger.Warn("Failed to read migration version", logging.Err(err))
		return nil
	}
	m.logger.Info("Database migrations applied",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// Rollback reverts the given number of migration steps.
func (m *Migrator) Rollback(steps int) error {
	if steps <= 0 {
		return errors.Newf(errors.CodeInvalidParam, "rollback steps must be positive, got %d", steps)
	}
	inst, err := m.instance()
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.Steps(-steps); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			return errors.New(errors.ErrCodeDatabaseError, "no migrations to roll back")
		}
		return errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to roll back %d step(s)", steps)
	}
	return nil
}

// Status reports the current schema version and whether a previous migration
// left it dirty.
func (m *Migrator) Status() (version uint, dirty bool, err error) {
	inst, err := m.instance()
	if err != nil {
		return 0, false, err
	}
	defer inst.Close()

	version, dirty, err = inst.Version()
	if err != nil {
		if stderrors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read migration version")
	}
	return version, dirty, nil
}

// Force overwrites the recorded schema version without running migrations.
// Only useful to recover from a dirty state; never part of normal startup.
func (m *Migrator) Force(version int) error {
	inst, err := m.instance()
	if err != nil {
		return err
	}
	defer inst.Close()

	if err := inst.Force(version); err != nil {
		return errors.Wrapf(err, errors.ErrCodeDatabaseError, "failed to force version %d", version)
	}
	return nil
}
