package jobstore

import (
	"errors"
	"math/rand"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// maxDeadlockRetries and the backoff schedule implement spec §4.1: base
// doubles per attempt (100ms, 200ms, 400ms) with up to 50% jitter.
const maxDeadlockRetries = 4

var deadlockBackoffBase = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// mysqlDeadlockErrors are the MySQL error numbers treated as deadlock-class:
// 1213 ER_LOCK_DEADLOCK, 1205 ER_LOCK_WAIT_TIMEOUT.
var mysqlDeadlockErrors = map[uint16]bool{
	1213: true,
	1205: true,
}

// isDeadlock reports whether err is a driver-reported deadlock-class error.
func isDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlDeadlockErrors[myErr.Number]
	}
	return false
}

// withRetry runs fn inside a fresh read/write transaction, retrying up to
// maxDeadlockRetries times with randomized backoff if the driver reports a
// deadlock-class error. Non-deadlock errors are returned immediately; on
// persistent deadlock the last error is returned to the caller.
func withRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxDeadlockRetries; attempt++ {
		lastErr = db.Transaction(fn)
		if lastErr == nil {
			return nil
		}
		if !isDeadlock(lastErr) || attempt == maxDeadlockRetries {
			return lastErr
		}

		base := deadlockBackoffBase[len(deadlockBackoffBase)-1]
		if attempt < len(deadlockBackoffBase) {
			base = deadlockBackoffBase[attempt]
		}
		jitter := time.Duration(rand.Int63n(int64(base) / 2))
		time.Sleep(base + jitter)
	}
	return lastErr
}
