// Package apperror defines the error kinds shared by the publishing services
// and the HTTP layer.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindMissingAccount    Kind = "missing_account"
	KindExpiredCredential Kind = "expired_credential"
	KindMediaTooLarge     Kind = "media_too_large"
	KindPlatformTransient Kind = "platform_transient_error"
	KindPlatformPermanent Kind = "platform_permanent_error"
	KindInvalidState      Kind = "invalid_state"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Platform error codes carried in Error.Code.
const (
	CodeAuthRevoked   = "auth_revoked"
	CodeRateLimited   = "rate_limited"
	CodeTimeout       = "timeout"
	CodeServerError   = "server_error"
	CodeRejected      = "rejected"
	CodeCircuitOpen   = "circuit_open"
	CodeThreadAborted = "thread_aborted"
)

type Error struct {
	Kind     Kind     `json:"kind"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	Platform string   `json:"platform,omitempty"`
	Fields   []string `json:"fields,omitempty"`
	Cause    error    `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Platform != "" {
		b.WriteString("[" + e.Platform + "]")
	}
	b.WriteString(": " + e.Message)
	if len(e.Fields) > 0 {
		b.WriteString(" (" + strings.Join(e.Fields, ", ") + ")")
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can write errors.Is(err, apperror.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Code == ""
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithPlatform(platform string) *Error {
	e.Platform = platform
	return e
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrMissingAccount    = &Error{Kind: KindMissingAccount}
	ErrExpiredCredential = &Error{Kind: KindExpiredCredential}
	ErrMediaTooLarge     = &Error{Kind: KindMediaTooLarge}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest builds an error listing the offending fields.
func InvalidRequest(message string, fields ...string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message, Fields: fields}
}

func MissingAccount(platform string) *Error {
	return &Error{Kind: KindMissingAccount, Message: "no active connected account", Platform: platform}
}

func ExpiredCredential(platform string, cause error) *Error {
	return &Error{Kind: KindExpiredCredential, Message: "credential expired, reconnect the account", Platform: platform, Cause: cause}
}

func MediaTooLarge(format string, args ...any) *Error {
	return New(KindMediaTooLarge, format, args...)
}

func Transient(platform, code string, cause error) *Error {
	return &Error{Kind: KindPlatformTransient, Code: code, Message: "platform temporarily unavailable", Platform: platform, Cause: cause}
}

func Permanent(platform, code, message string) *Error {
	return &Error{Kind: KindPlatformPermanent, Code: code, Message: message, Platform: platform}
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the platform code if set, otherwise the kind.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		if e.Code != "" {
			return e.Code
		}
		return string(e.Kind)
	}
	return string(KindInternal)
}

func IsRetryable(err error) bool {
	return KindOf(err) == KindPlatformTransient
}

// IsAuthRevoked reports whether the platform rejected the credential itself.
func IsAuthRevoked(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindPlatformPermanent && e.Code == CodeAuthRevoked
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindMissingAccount:
		return http.StatusUnprocessableEntity
	case KindExpiredCredential:
		return http.StatusUnauthorized
	case KindMediaTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindPlatformTransient, KindPlatformPermanent:
		return http.StatusBadGateway
	case KindInvalidState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
