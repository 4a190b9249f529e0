package cnst

import "errors"

var (
	// ErrUnknownTable is returned when a caller names a table that is not mirrored
	ErrUnknownTable = errors.New("unknown table")
	// ErrMissingLoja is returned when a tenant-scoped call omits the loja id
	ErrMissingLoja = errors.New("missing loja id")
	// ErrMissingKey is returned when a row operation omits the row key
	ErrMissingKey = errors.New("missing row key")
	// ErrNotOwner is returned when a non-privileged caller touches a row it does not own
	ErrNotOwner = errors.New("caller does not own this row")
	// ErrNotPrivileged is returned when an operation requires a privileged role
	ErrNotPrivileged = errors.New("operation requires a privileged role")
	// ErrUnsupportedDatabase is returned for an unrecognized remote database type
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	// ErrUnsupportedCache is returned for an unrecognized cache type
	ErrUnsupportedCache = errors.New("unsupported cache type")
	// ErrNotSender is returned when a receive-only bridge is asked to send
	ErrNotSender = errors.New("bridge is not configured as a sender")
	// ErrNotReceiver is returned when a send-only bridge is asked to watch
	ErrNotReceiver = errors.New("bridge is not configured as a receiver")
)
