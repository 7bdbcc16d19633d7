// Package apperr classifies failures into the three classes the ingestion
// and sync paths treat differently:
//
//   - Miss: an expected lookup miss (unknown phone number, unknown message id).
//     Logged as a warning, the operation returns early.
//   - Fault: a recoverable infrastructure or provider failure. Inbound
//     processing dead-letters it; the reconciler records it per item.
//   - Caller: an error from an explicit operator action that must reach the
//     caller.
//
// Any error not built by this package is treated as a Fault.
// HTTPStatus reports provider faults as 502 and local faults as 500.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"whatsapp-inbox/internal/whatsapp"
)

type Kind uint8

const (
	KindFault Kind = iota
	KindMiss
	KindCaller
)

func (k Kind) String() string {
	switch k {
	case KindMiss:
		return "miss"
	case KindCaller:
		return "caller"
	default:
		return "fault"
	}
}

// Error carries a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Miss(op, format string, args ...any) error {
	return &Error{Kind: KindMiss, Op: op, Err: fmt.Errorf(format, args...)}
}

func Fault(op string, err error) error {
	return &Error{Kind: KindFault, Op: op, Err: err}
}

func Caller(op string, err error) error {
	return &Error{Kind: KindCaller, Op: op, Err: err}
}

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFault
}

func IsMiss(err error) bool { return err != nil && KindOf(err) == KindMiss }

// HTTPStatus maps a Kind to the status returned by operator endpoints.
// Faults caused by a Graph API response are 502, other faults 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMiss:
		return http.StatusNotFound
	case KindCaller:
		return http.StatusBadRequest
	}
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
