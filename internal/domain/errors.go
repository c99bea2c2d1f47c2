package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Pipeline error taxonomy. Callers wrap these with context and inspect them with errors.Is.
var (
	// ErrTransportTransient marks mailbox or notifier I/O failures expected to succeed on retry.
	ErrTransportTransient = errors.New("transient transport failure")
	// ErrTransportFatal marks auth/config failures that must not be retried.
	ErrTransportFatal = errors.New("fatal transport failure")
	// ErrPersistence marks a store failure that survived the local retry budget.
	ErrPersistence = errors.New("persistence failure")
	// ErrMalformedMessage marks input that no parser strategy could read.
	ErrMalformedMessage = errors.New("malformed message")
)
