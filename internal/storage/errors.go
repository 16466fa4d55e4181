package storage

import "github.com/pkg/errors"

// Error text doubles as the RESP error payload sent back to clients, so
// the messages follow the Redis wire conventions.
var (
	// ErrWrongType is returned when a command touches a key holding a
	// different kind of value.
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrBadPattern is returned for KEYS patterns other than the literal *.
	ErrBadPattern = errors.New("ERR unsupported pattern for 'keys' command")

	// ErrBadEntryID is returned for stream entry ids this server does not
	// accept, such as the auto-generation forms * and ms-*.
	ErrBadEntryID = errors.New("ERR unsupported entry id for 'xadd' command")
)
