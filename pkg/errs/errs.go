// Package errs defines the error taxonomy shared by the ingestion and query paths.
//
// Callers match on the sentinels with errors.Is and extract detail from the typed
// errors with errors.As. Every package wraps with %w so the chain stays intact.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrFetch               = errors.New("fetch error")
	ErrContent             = errors.New("content error")
	ErrEmbedding           = errors.New("embedding error")
	ErrIndex               = errors.New("vector index error")
	ErrGeneration          = errors.New("generation error")
	ErrNotFound            = errors.New("not found")
	ErrNoRelevantDocuments = errors.New("no relevant documents found")
	ErrInvalidTransition   = errors.New("invalid job status transition")
)

// Pipeline stage names used in StageError and job failure records.
const (
	StageFetch      = "fetch"
	StageClean      = "clean"
	StageChunk      = "chunk"
	StageEmbedding  = "embedding"
	StageIndex      = "index"
	StageSearch     = "search"
	StageGeneration = "generation"
)

// FetchError is returned by the content fetcher. StatusCode is zero for
// transport-level failures (DNS, timeout, connection refused).
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("failed to fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}

// StageError tags an error with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage wraps err with the given stage; nil stays nil.
func Stage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded on err, or "" if none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Validationf builds an ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Chain renders every error in the wrap chain, outermost first. It is what the
// ledger stores as the failure traceback.
func Chain(err error) []string {
	var out []string
	for err != nil {
		out = append(out, err.Error())
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return out
			}
			err = errs[len(errs)-1]
		default:
			return out
		}
	}
	return out
}
