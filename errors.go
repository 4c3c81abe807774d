package safesession

import "errors"

var (
	// ErrNotReady is returned when an operation is attempted before a store
	// has been attached to the Manager.
	ErrNotReady = errors.New("session store not attached")

	// ErrInvalidSession is returned when a nil or malformed session is passed
	// to an operation that requires one.
	ErrInvalidSession = errors.New("invalid session")

	// ErrUnknownStoreType is returned by the store factory for an
	// unrecognized StoreConfig.Type.
	ErrUnknownStoreType = errors.New("unknown store type")

	// ErrRecordTooLarge is returned when the serialized session record
	// exceeds the configured MaxRecordBytes.
	ErrRecordTooLarge = errors.New("session record too large")
)
