package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ErrNotFound indicates the requested cluster resource does not exist.
var ErrNotFound = errors.New("cluster resource not found")

// ErrorKind classifies cluster failures for retry decisions.
type ErrorKind string

const (
	// Transient failures (timeouts, throttling, apiserver hiccups)
	// are retried with bounded backoff before surfacing.
	Transient ErrorKind = "transient"

	// Permanent failures (permission denial, invalid specs, quota
	// exhaustion) surface immediately and mark the environment error.
	Permanent ErrorKind = "permanent"
)

// Error wraps a cluster API failure with its retry classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cluster %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a cluster failure worth retrying.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == Transient
}

// classify wraps a Kubernetes API error with a retry classification.
// Not-found maps to ErrNotFound so callers can branch on absence.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	kind := Permanent
	switch {
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err),
		apierrors.IsConflict(err):
		kind = Transient
	case errors.Is(err, context.DeadlineExceeded):
		kind = Transient
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			kind = Transient
		}
	}

	return &Error{Kind: kind, Op: op, Err: err}
}
