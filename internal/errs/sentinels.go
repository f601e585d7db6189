// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Remote storage sentinels. They mirror the storage service error variants so every
// transport can map its own failures onto the same values.
var (
	// ErrNotFound indicates the requested file or workspace does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates the identity may not touch the workspace.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidOperation indicates the remote rejected the call as malformed.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrFileTooLarge indicates the content exceeds the remote size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrVersionConflict indicates optimistic concurrency failure on save.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRemoteUnavailable indicates the remote could not be reached or timed out.
	ErrRemoteUnavailable = errors.New("remote unavailable")
)

// Client-side sentinels.
var (
	// ErrInvalidWorkspace indicates a zero or unparsable workspace id.
	ErrInvalidWorkspace = errors.New("invalid workspace id")

	// ErrNotInitialized indicates the client has no live session.
	ErrNotInitialized = errors.New("not initialized")

	// ErrLocalOnly indicates the session runs without a remote channel.
	ErrLocalOnly = errors.New("local-only session")

	// ErrGateClosed indicates the outage gate is holding writes back.
	ErrGateClosed = errors.New("remote writes paused")

	// ErrMalformedIdentity indicates the identity has no usable user handle.
	ErrMalformedIdentity = errors.New("malformed identity")
)
