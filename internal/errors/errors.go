// Package errors carries a transport-agnostic error code vocabulary (the gRPC
// code set) with an HTTP mapping for the REST surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/musudik/iquiz/internal/domain"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeResourceExhausted  = Code(codes.ResourceExhausted)
	CodeDeadlineExceeded   = Code(codes.DeadlineExceeded)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeDeadlineExceeded:   http.StatusGone,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert maps any error to *Error, classifying the domain sentinels on the
// way; everything unrecognized becomes internal.
func Convert(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if code, ok := domainCode(err); ok {
		return New(code, WithMessagef("%s", userMessage(err)), WithCause(err))
	}

	return Internal(err)
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func domainCode(err error) (Code, bool) {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrRegistrationNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		return CodeNotFound, true
	case errors.Is(err, domain.ErrInvalidLink),
		errors.Is(err, domain.ErrInvalidRegistration):
		return CodeUnauthenticated, true
	case errors.Is(err, domain.ErrInvalidOption):
		return CodeInvalidArgument, true
	case errors.Is(err, domain.ErrNoQuestions),
		errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotActive):
		return CodeFailedPrecondition, true
	case errors.Is(err, domain.ErrTimeExpired):
		return CodeDeadlineExceeded, true
	case errors.Is(err, domain.ErrQuizFull):
		return CodeResourceExhausted, true
	}
	return 0, false
}

// userMessage strips wrapping noise down to the sentinel's text.
func userMessage(err error) string {
	for {
		if u := errors.Unwrap(err); u != nil {
			err = u
			continue
		}
		return err.Error()
	}
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
