package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidPayload      = "PAYMENTS_INVALID_PAYLOAD"
	ErrorInvalidSignature    = "PAYMENTS_INVALID_SIGNATURE"
	ErrorLedgerWriteFailed   = "PAYMENTS_LEDGER_WRITE_FAILED"
	ErrorEventNotFound       = "PAYMENTS_EVENT_NOT_FOUND"
	ErrorBadInput            = "PAYMENTS_BAD_INPUT"
	ErrorProviderUnavailable = "PAYMENTS_PROVIDER_UNAVAILABLE"
	ErrorProviderRejected    = "PAYMENTS_PROVIDER_REJECTED"
	ErrorInternal            = "PAYMENTS_INTERNAL_ERROR"
)

func NewInvalidPayloadError(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryBadInput).
			WithTextCode(ErrorInvalidPayload),
	)
}

func NewInvalidSignatureError(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(ErrorInvalidSignature),
	)
}

func NewLedgerWriteError(source error, message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.Wrap(source, goerrors.CategoryInternal, message).
			WithTextCode(ErrorLedgerWriteFailed),
	)
}

func NewBadInputError(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryBadInput).
			WithTextCode(ErrorBadInput),
	)
}

func NewProviderUnavailableError(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryExternal).
			WithTextCode(ErrorProviderUnavailable),
	)
}

func NewProviderRejectedError(message string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryExternal).
			WithTextCode(ErrorProviderRejected),
	)
}

// MapError normalizes an arbitrary error into the payments error
// envelope: category, HTTP status, and text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return NewInvalidSignatureError(err.Error())
	case strings.Contains(msg, "payload"), strings.Contains(msg, "envelope"):
		return NewInvalidPayloadError(err.Error())
	case strings.Contains(msg, "not found"):
		return ensureErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryNotFound).
				WithTextCode(ErrorEventNotFound),
		)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewBadInputError(err.Error())
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorInvalidSignature
	case goerrors.CategoryNotFound:
		return ErrorEventNotFound
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return ErrorProviderUnavailable
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus extracts the transport status for an error, defaulting to
// 500 for unmapped failures.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	mapped := MapError(err)
	if mapped == nil || mapped.Code == 0 {
		return http.StatusInternalServerError
	}
	return mapped.Code
}

// IsTextCode reports whether err carries the given payments text code.
func IsTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}
