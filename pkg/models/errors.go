package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a job failed and whether it may be retried.
type ErrorKind string

const (
	// ErrorKindTransient covers network errors, timeouts and engine outages.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPrecondition means the job cannot succeed until something
	// upstream changes, e.g. embedding without a transcript.
	ErrorKindPrecondition ErrorKind = "precondition"
	// ErrorKindCostRejected means the cost gate refused the paid call.
	ErrorKindCostRejected ErrorKind = "cost_rejected"
	// ErrorKindRetriesExhausted is recorded when retry_count passed the limit.
	ErrorKindRetriesExhausted ErrorKind = "retries_exhausted"
)

// Retryable reports whether a failure of this kind returns the job to pending.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindTransient
}

// JobError is a classified failure of a job stage.
type JobError struct {
	Kind ErrorKind
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error { return &JobError{Kind: ErrorKindTransient, Err: err} }

// Precondition wraps err as a terminal precondition failure.
func Precondition(err error) error { return &JobError{Kind: ErrorKindPrecondition, Err: err} }

// CostRejected wraps err as a terminal cost gate rejection.
func CostRejected(err error) error { return &JobError{Kind: ErrorKindCostRejected, Err: err} }

// KindOf returns the ErrorKind carried by err. Unclassified errors are
// treated as transient.
func KindOf(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ErrorKindTransient
}
