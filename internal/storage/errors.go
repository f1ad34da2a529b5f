package storage

import "errors"

var (
	// ErrNotFound indicates the requested row or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPathTraversal indicates a prompt name or response id carried
	// directory-traversal sequences. Raised before any file I/O.
	ErrPathTraversal = errors.New("path traversal rejected")
	// ErrDuplicate indicates a uniqueness constraint would be violated.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrNoActiveProvider indicates no provider configuration is active.
	ErrNoActiveProvider = errors.New("no active provider configured")
)
