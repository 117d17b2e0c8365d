package supervision

import "errors"

var (
	// ErrNotFound indicates a missing supervision record.
	ErrNotFound = errors.New("supervision: not found")
	// ErrInvalidStatus indicates a status outside the closed set.
	ErrInvalidStatus = errors.New("supervision: invalid status")
	// ErrStaleStatus indicates a status change older than the stored one.
	ErrStaleStatus = errors.New("supervision: stale status timestamp")
	// ErrProcessConnected rejects a second connection of a running process.
	ErrProcessConnected = errors.New("supervision: process already connected")
	// ErrPIKMismatch rejects a request carrying the wrong process identifier key.
	ErrPIKMismatch = errors.New("supervision: process identifier key mismatch")
)
