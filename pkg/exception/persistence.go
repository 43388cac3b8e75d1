package exception

import "errors"

var (
	ErrStoreUnavailable = errors.New("persistence: store unavailable")
	ErrSnapshotNotFound = errors.New("persistence: snapshot not found")
	ErrLogCorrupted     = errors.New("persistence: event log corrupted")
)
