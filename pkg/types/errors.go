package types

import "errors"

var (
	// Listener errors
	ErrBindExhausted = errors.New("no free port in listener range")

	// Ownership errors
	ErrInvalidProject      = errors.New("invalid project identity")
	ErrAlreadyOwnsProject  = errors.New("process already owns a different project")
	ErrExclusiveModeActive = errors.New("exclusive mode is active")
	ErrNoProjectOpen       = errors.New("no project open")

	// Peer errors
	ErrPeerUnsupported = errors.New("operation not supported by peer endpoint")

	// Storage errors
	ErrProjectLocked = errors.New("project data is locked by another process")

	// Quiescence errors
	ErrActionPanicked = errors.New("exclusive action panicked")
)
