package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ErrorCode is the fixed extraction error taxonomy. Provider-specific failures are
// normalized into one of these at the adapter boundary.
type ErrorCode string

const (
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeLLMOutputInvalid    ErrorCode = "LLM_OUTPUT_INVALID"
	CodeLLMSuspiciousOutput ErrorCode = "LLM_SUSPICIOUS_OUTPUT"
	CodeBudgetExceeded      ErrorCode = "BUDGET_EXCEEDED"
	CodeUnsupportedDocument ErrorCode = "UNSUPPORTED_DOCUMENT"
	CodeStorageUnavailable  ErrorCode = "STORAGE_UNAVAILABLE"
	CodeCanceled            ErrorCode = "CANCELED"
	CodeConfig              ErrorCode = "CONFIG_ERROR"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeInternal            ErrorCode = "INTERNAL"
)

const errorDomain = "orderex"

// Retryable reports whether the external caller may create a new run for the same document.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeTimeout, CodeRateLimited, CodeProviderUnavailable, CodeStorageUnavailable, CodeCanceled:
		return true
	}
	return false
}

// AppError represents application-specific errors
type AppError struct {
	Code       ErrorCode
	Message    string
	Cause      error
	RetryAfter time.Duration // hint from the provider, zero when unknown
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// GRPCStatus lets status.FromError / status.Convert pick up the taxonomy code.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(grpcCode(e.Code), e.Error())
	details := []any{&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   errorDomain,
		Metadata: map[string]string{"retryable": fmt.Sprintf("%t", e.Code.Retryable())},
	}}
	if e.Code.Retryable() && e.RetryAfter > 0 {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(e.RetryAfter)})
	}
	withDetails := st
	for _, d := range details {
		var err error
		switch msg := d.(type) {
		case *errdetails.ErrorInfo:
			withDetails, err = withDetails.WithDetails(msg)
		case *errdetails.RetryInfo:
			withDetails, err = withDetails.WithDetails(msg)
		}
		if err != nil {
			return st
		}
	}
	return withDetails
}

func grpcCode(c ErrorCode) codes.Code {
	switch c {
	case CodeTimeout:
		return codes.DeadlineExceeded
	case CodeRateLimited, CodeBudgetExceeded:
		return codes.ResourceExhausted
	case CodeAuthInvalid:
		return codes.Unauthenticated
	case CodeProviderUnavailable, CodeStorageUnavailable:
		return codes.Unavailable
	case CodeLLMOutputInvalid:
		return codes.DataLoss
	case CodeUnsupportedDocument, CodeInvalidInput:
		return codes.InvalidArgument
	case CodeCanceled:
		return codes.Canceled
	case CodeConfig:
		return codes.FailedPrecondition
	}
	return codes.Internal
}

// Common application errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the taxonomy code from err. Context errors map to TIMEOUT / CANCELED;
// anything unrecognized is INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	}
	return CodeInternal
}
