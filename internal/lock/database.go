package lock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// DBLocker implements Locker on the bb_booking_lock table, whose lock_key
// column is the primary key.  The insert either succeeds or hits the unique
// constraint, which makes acquisition atomic without Redis.
type DBLocker struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBLocker returns a DBLocker using db.
func NewDBLocker(db *sql.DB) *DBLocker {
	return &DBLocker{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// TryLock inserts the lock row.  A duplicate row that has expired is removed
// and the insert is tried once more.
func (l *DBLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.insert(ctx, key, owner, ttl)
	if err != nil || ok {
		return ok, err
	}
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM bb_booking_lock WHERE lock_key = ? AND expires_at <= ?`, key, l.now())
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	return l.insert(ctx, key, owner, ttl)
}

func (l *DBLocker) insert(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO bb_booking_lock (lock_key, owner, expires_at) VALUES (?, ?, ?)`,
		key, owner, l.now().Add(ttl))
	if err == nil {
		return true, nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return false, nil
	}
	return false, err
}

// Unlock deletes the row if owner still holds it.
func (l *DBLocker) Unlock(ctx context.Context, key, owner string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM bb_booking_lock WHERE lock_key = ? AND owner = ?`, key, owner)
	return err
}

// PurgeExpired removes every expired lock row and returns how many were deleted.
func (l *DBLocker) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM bb_booking_lock WHERE expires_at <= ?`, l.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
