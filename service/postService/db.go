package postService

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"runtime/debug"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/migrations"
)

// DBConfig - connection settings
type DBConfig struct {
	URL        string
	SSLRequire bool
	Production bool
}

// ConnectionURL - URL with sslmode set according to config
// An explicit sslmode in the URL wins over SSLRequire
func (c DBConfig) ConnectionURL() (string, error) {
	parsed, err := url.Parse(c.URL)
	if err != nil {
		return "", errors.Wrap(err, "invalid database URL")
	}
	query := parsed.Query()
	if query.Get("sslmode") == "" {
		if c.SSLRequire {
			query.Set("sslmode", "require")
		} else {
			query.Set("sslmode", "disable")
		}
	}
	if query.Get("timezone") == "" {
		query.Set("timezone", "UTC")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Connect - opens and verifies connection pool
func Connect(config DBConfig) (*sqlx.DB, error) {
	dbURL, err := config.ConnectionURL()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to database")
	}

	if config.Production {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(20)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	log.Info("Connected to database")
	return db, nil
}

// MigrationsUp - applies embedded base schema migrations
func MigrationsUp(db *sqlx.DB) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return errors.Wrap(err, "error opening embedded migrations")
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "error creating postgres driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "error creating migration instance")
	}

	if err = m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Info("Migration state is up to date")
			return nil
		}
		return errors.Wrap(err, "error running migrations")
	}

	log.Info("Ran migrations successfully")
	return nil
}

// WithTx - runs fn inside a transaction. Any error or panic in fn rolls the transaction back
func WithTx(ctx context.Context, db *sqlx.DB, reason string, fn func(tx *sqlx.Tx) error) (err error) {
	logger := log.WithField("tx", reason)
	logger.Debug("Starting transaction")

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error starting transaction")
	}

	var committed bool

	defer func() {
		if panicErr := recover(); panicErr != nil {
			logger.Errorf("Panic in transaction: %v\n%s", panicErr, debug.Stack())
			err = fmt.Errorf("panic in transaction %s: %v", reason, panicErr)
		}

		if committed {
			return
		}

		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logger.Errorf("Transaction rollback error: %s", rbErr)
		} else {
			logger.Debug("Transaction rolled back")
		}
	}()

	if err = fn(tx); err != nil {
		logger.Debugf("Error in transaction: %s", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing transaction")
	}
	committed = true

	logger.Debug("Committed transaction")
	return nil
}
