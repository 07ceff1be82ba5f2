// Package errors carries the failure taxonomy shared by the client,
// runner and writer: resolution failures are terminal for one task,
// transient failures are retried, permanent failures are not.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNoMatch          = errors.New("no match for task")
	ErrAmbiguousMatch   = errors.New("ambiguous match for task")
	ErrEpisodeNotFound  = errors.New("episode not found")
	ErrNamingCollision  = errors.New("output file name collision")
	ErrNoResolutionMode = errors.New("task has no resolution field (commentId/url/fileName/anime)")
)

type classified struct {
	err       error
	transient bool
}

func (c *classified) Error() string {
	if c.transient {
		return fmt.Sprintf("transient: %v", c.err)
	}
	return fmt.Sprintf("permanent: %v", c.err)
}

func (c *classified) Unwrap() error { return c.err }

// Transient marks err as retryable (connection failures, timeouts,
// 5xx-class upstream responses).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, transient: true}
}

// Permanent marks err as terminal for the task; the runner fails the
// task on the first occurrence without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, transient: false}
}

// IsTransient reports whether err was classified retryable. Anything
// not explicitly classified is treated as permanent.
func IsTransient(err error) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.transient
	}
	return false
}

// IsResolution reports whether err is one of the resolver's task-scoped
// terminal failures.
func IsResolution(err error) bool {
	return errors.Is(err, ErrNoMatch) ||
		errors.Is(err, ErrAmbiguousMatch) ||
		errors.Is(err, ErrEpisodeNotFound)
}
