package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/porthorian/dashauth/pkg/storage"
)

const (
	putFlagQuery = `
INSERT INTO dashauth.credential_flag (
  client_key, set_at, expires_at, date_modified
) VALUES ($1, $2, $3, $4)
ON CONFLICT (client_key) DO UPDATE
SET
  set_at = EXCLUDED.set_at,
  expires_at = EXCLUDED.expires_at,
  date_modified = EXCLUDED.date_modified
`

	getFlagQuery = `
SELECT
  client_key, set_at, expires_at
FROM dashauth.credential_flag
WHERE client_key = $1 AND expires_at > $2
`

	deleteFlagQuery = `DELETE FROM dashauth.credential_flag WHERE client_key = $1`

	deleteExpiredFlagsQuery = `DELETE FROM dashauth.credential_flag WHERE expires_at <= $1`
)

func (a *Adapter) PutFlag(ctx context.Context, record storage.FlagRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	now := a.now().UTC()
	if err := record.Validate(now); err != nil {
		return err
	}

	setAt := record.SetAt
	if setAt.IsZero() {
		setAt = now
	}

	_, err := a.stmts.putFlag.ExecContext(ctx, record.Key, setAt.UTC(), record.ExpiresAt.UTC(), now)
	return err
}

func (a *Adapter) GetFlag(ctx context.Context, key string) (storage.FlagRecord, bool, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.FlagRecord{}, false, err
	}

	var record storage.FlagRecord
	err := a.stmts.getFlag.QueryRowContext(ctx, key, a.now().UTC()).Scan(&record.Key, &record.SetAt, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.FlagRecord{}, false, nil
	}
	if err != nil {
		return storage.FlagRecord{}, false, err
	}

	record.SetAt = record.SetAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, true, nil
}

func (a *Adapter) DeleteFlag(ctx context.Context, key string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.deleteFlag.ExecContext(ctx, key)
	return err
}

// DeleteExpiredFlags removes rows past their expiry and returns how many were removed.
func (a *Adapter) DeleteExpiredFlags(ctx context.Context, before time.Time) (int64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return 0, err
	}

	result, err := a.stmts.deleteExpiredFlags.ExecContext(ctx, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
