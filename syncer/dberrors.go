package syncer

import (
	"context"
	"errors"
	"strings"
)

// Storage failure names, shared with the other sync clients so status reports line up.
const (
	AbortError               = "AbortError"
	OpenFailedError          = "OpenFailedError"
	InvalidStateError        = "InvalidStateError"
	QuotaExceededError       = "QuotaExceededError"
	TransactionInactiveError = "TransactionInactiveError"
)

// ErrStorageUnavailable aborts a run when the local database cannot take writes.
var ErrStorageUnavailable = errors.New("syncer: storage unavailable")

// StorageQuotaErrors are the failures that mean the store itself is in trouble, as opposed
// to a bad row.
var StorageQuotaErrors = map[string]struct{}{
	AbortError:               {},
	OpenFailedError:          {},
	InvalidStateError:        {},
	QuotaExceededError:       {},
	TransactionInactiveError: {},
}

// StorageErrorName maps a SQLite/gorm error onto one of the storage failure names,
// or "" when none applies.
func StorageErrorName(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return AbortError
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database or disk is full"), strings.Contains(msg, "sqlite_full"),
		strings.Contains(msg, "no space left on device"):
		return QuotaExceededError
	case strings.Contains(msg, "unable to open database"), strings.Contains(msg, "sqlite_cantopen"),
		strings.Contains(msg, "sql: database is closed"):
		return OpenFailedError
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "readonly database"), strings.Contains(msg, "sqlite_readonly"):
		return InvalidStateError
	case strings.Contains(msg, "interrupted"), strings.Contains(msg, "sqlite_interrupt"),
		strings.Contains(msg, "sqlite_abort"):
		return AbortError
	case strings.Contains(msg, "cannot commit - no transaction is active"), strings.Contains(msg, "sql: transaction has already been committed or rolled back"):
		return TransactionInactiveError
	}
	return ""
}

// HandleStorageErrors returns an error handler that routes errors named in notable
// (StorageQuotaErrors when nil) to notableHandler and everything else to defaultHandler.
// A nil notableHandler yields the zero R for notable errors.
func HandleStorageErrors[R any](defaultHandler func(error) R, notableHandler func(error) R, notable map[string]struct{}) func(error) R {
	if notable == nil {
		notable = StorageQuotaErrors
	}
	return func(err error) R {
		if _, ok := notable[StorageErrorName(err)]; !ok {
			return defaultHandler(err)
		}
		if notableHandler == nil {
			var zero R
			return zero
		}
		return notableHandler(err)
	}
}
