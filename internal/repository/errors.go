// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services to distinguish between different failure scenarios without
// knowing anything about the MySQL driver. For example, ErrDuplicateSlot
// signals that the unique active-slot index rejected an insert, while
// ErrTxConflict means the database aborted the transaction to resolve a
// deadlock or lock wait and the whole operation may be retried.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrDuplicateSlot is returned when an insert collides with the unique
// active-slot index: another scheduled appointment already owns the
// consultant's slot.
var ErrDuplicateSlot = errors.New("slot already booked")

// ErrTxConflict is returned when MySQL aborts a transaction because of a
// deadlock (1213) or a lock wait timeout (1205).
var ErrTxConflict = errors.New("transaction conflict")

const (
	mysqlDuplicateEntry    = 1062
	mysqlLockWaitTimeout   = 1205
	mysqlDeadlock          = 1213
	mysqlSerializationFail = 1637
)

// translate maps driver errors onto the sentinels above.  Errors that are
// not MySQL errors are returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlDuplicateEntry:
		return errors.Join(ErrDuplicateSlot, err)
	case mysqlLockWaitTimeout, mysqlDeadlock, mysqlSerializationFail:
		return errors.Join(ErrTxConflict, err)
	}
	return err
}
