// Package errs holds the sentinel errors shared by the chat room components.
// Callers wrap them with fmt.Errorf("%w: ...") and match with errors.Is.
package errs

import "errors"

var (
	ErrDuplicateUser       = errors.New("username already exists")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidInput        = errors.New("invalid input")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidFilename     = errors.New("invalid filename")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)
