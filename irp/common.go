package irp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "irp")

type forceAuthKey struct{}
type requestIDKey struct{}

// ContextWithForceAuth makes the next token lookup bypass the cache.
func ContextWithForceAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, forceAuthKey{}, true)
}

func IsForceAuth(ctx context.Context) bool {
	v, ok := ctx.Value(forceAuthKey{}).(bool)
	return ok && v
}

// ContextWithRequestID sets the X-Request-ID sent with every attempt of the call.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey{}).(string)
	return v, ok && v != ""
}

// Operation names a Registry call; each has its own timeout.
type Operation string

const (
	OpAuth     Operation = "auth"
	OpGenerate Operation = "generate"
	OpCancel   Operation = "cancel"
	OpFetch    Operation = "fetch"
)

// Operations lists the calls subject to quota and retry.
var Operations = []Operation{OpGenerate, OpCancel, OpFetch}

// Kind discriminates errors so callers can tell retryable from fatal conditions.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindQuota          Kind = "quota"
	KindTransient      Kind = "transient"
	KindBusiness       Kind = "business"
	KindSignature      Kind = "signature"
	KindConfig         Kind = "config"
	KindCanceled       Kind = "canceled"
	KindInternal       Kind = "internal"
)

var (
	ErrUnauthorized        = errors.New("irp unauthorized")
	ErrForbidden           = errors.New("irp forbidden")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrBatchTooLarge       = errors.New("batch too large")
	ErrInvalidIRN          = errors.New("invalid IRN")
	ErrInvalidCancelReason = errors.New("invalid cancel reason")
)

// ApiError is the single error type returned by the client and the registration service.
type ApiError struct {
	Kind    Kind
	Op      Operation
	Status  int // HTTP status, 0 when no response was received
	Code    string
	Message string
	Details []ErrorDetail
	Body    []byte // fragment of the response body for diagnostics

	// RetryAfter is the server requested delay, if any.
	RetryAfter time.Duration

	Err error
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e ErrorDetail) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ApiError) Error() string {
	var b strings.Builder
	b.WriteString("irp")
	if e.Op != "" {
		b.WriteString(" " + string(e.Op))
	}
	b.WriteString(": " + string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, ": http status %d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	for _, d := range e.Details {
		b.WriteString("; " + d.Error())
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

// Is matches ErrUnauthorized for every authentication failure and ErrForbidden for HTTP 403.
func (e *ApiError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindAuthentication
	case ErrForbidden:
		return e.Status == 403
	}
	return false
}

// Retryable reports whether the failure is transient.
func (e *ApiError) Retryable() bool {
	return e.Kind == KindTransient
}

// KindOf returns the kind of err; errors not produced by this package are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// IsRetryable reports whether err is an *ApiError of transient kind.
func IsRetryable(err error) bool {
	var apiErr *ApiError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func canceledError(op Operation, err error) *ApiError {
	return &ApiError{Kind: KindCanceled, Op: op, Message: err.Error(), Err: err}
}
