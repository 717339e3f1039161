package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/dashauth/pkg/storage"
)

type Adapter struct {
	db *sql.DB

	stmts preparedStatements
	now   func() time.Time
}

type preparedStatements struct {
	putFlag            *sql.Stmt
	getFlag            *sql.Stmt
	deleteFlag         *sql.Stmt
	deleteExpiredFlags *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "put flag",
		query: putFlagQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putFlag = stmt
		},
	},
	{
		label: "get flag",
		query: getFlagQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getFlag = stmt
		},
	},
	{
		label: "delete flag",
		query: deleteFlagQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteFlag = stmt
		},
	},
	{
		label: "delete expired flags",
		query: deleteExpiredFlagsQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteExpiredFlags = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ storage.FlagStore = (*Adapter)(nil)

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db:  db,
		now: time.Now,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

// Close releases the prepared statements. The *sql.DB stays owned by the caller.
func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.putFlag,
		a.stmts.getFlag,
		a.stmts.deleteFlag,
		a.stmts.deleteExpiredFlags,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.putFlag == nil || a.stmts.getFlag == nil || a.stmts.deleteFlag == nil || a.stmts.deleteExpiredFlags == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
