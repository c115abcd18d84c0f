package engine

import "errors"

var (
	// ErrEngineClosed is returned for operations on a closed engine
	ErrEngineClosed = errors.New("engine is closed")

	// ErrEngineRecovering is returned while the engine replays its logs
	ErrEngineRecovering = errors.New("engine is recovering")

	// ErrKeyNotFound is returned when a key does not exist or was deleted
	ErrKeyNotFound = errors.New("key not found")

	// ErrEmptyKey rejects zero-length keys on the write path
	ErrEmptyKey = errors.New("key cannot be empty")
)
