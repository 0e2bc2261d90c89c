package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeProviderError         = "PROVIDER_ERROR"
	TextCodeProviderNotFound      = "PROVIDER_NOT_FOUND"
	TextCodeUnauthenticated       = "UNAUTHENTICATED"
	TextCodeAlreadyAuthenticated  = "ALREADY_AUTHENTICATED"
	TextCodeForbidden             = "FORBIDDEN"
	TextCodeCsrfMismatch          = "CSRF_MISMATCH"
	TextCodeBotSuspected          = "BOT_SUSPECTED"
	TextCodeNotFound              = "NOT_FOUND"
	TextCodeStorageConflict       = "STORAGE_CONFLICT"
	TextCodeAuditWriteFailure     = "AUDIT_WRITE_FAILURE"
	TextCodeVerificationNotFound  = "VERIFICATION_NOT_FOUND"
	TextCodeValidationFailed      = "VALIDATION_FAILED"
	TextCodeEmptyPassword         = "EMPTY_PASSWORD"
	TextCodeSessionTokenMalformed = "SESSION_TOKEN_MALFORMED"
	TextCodeInvalidOAuthState     = "INVALID_OAUTH_STATE"
	TextCodeInvalidConfig         = "INVALID_CONFIG"
)

// MetaRedirectTo is the metadata key holding the redirect target of guard errors
const MetaRedirectTo = "redirect_to"

// ErrInvalidCredentials covers both unknown identifiers and wrong passwords
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrProviderNotFound = goerrors.New("identity provider not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProviderNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUnauthenticated is returned by guards when a protected route has no valid session
var ErrUnauthenticated = goerrors.New("authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrAlreadyAuthenticated is returned by anonymous-only guards
var ErrAlreadyAuthenticated = goerrors.New("already authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeAlreadyAuthenticated).
	WithCode(goerrors.CodeBadRequest)

var ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuth).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrCsrfMismatch = goerrors.New("invalid form submission", goerrors.CategoryBadInput).
	WithTextCode(TextCodeCsrfMismatch).
	WithCode(goerrors.CodeForbidden)

var ErrBotSuspected = goerrors.New("invalid form submission", goerrors.CategoryBadInput).
	WithTextCode(TextCodeBotSuspected).
	WithCode(goerrors.CodeBadRequest)

var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrStorageConflict signals a unique constraint race. It is handled
// internally and never surfaced to end users.
var ErrStorageConflict = goerrors.New("storage conflict", goerrors.CategoryConflict).
	WithTextCode(TextCodeStorageConflict).
	WithCode(goerrors.CodeConflict)

var ErrAuditWriteFailure = goerrors.New("failed to write audit record", goerrors.CategoryInternal).
	WithTextCode(TextCodeAuditWriteFailure).
	WithCode(http.StatusInternalServerError)

var ErrVerificationNotFound = goerrors.New("invalid or expired verification", goerrors.CategoryNotFound).
	WithTextCode(TextCodeVerificationNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrValidationFailed = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

var ErrSessionTokenMalformed = goerrors.New("malformed session token", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrInvalidOAuthState = goerrors.New("invalid or expired oauth state", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidOAuthState).
	WithCode(goerrors.CodeBadRequest)

// HasTextCode reports whether err is a rich error carrying the given text code
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

func IsInvalidCredentials(err error) bool { return HasTextCode(err, TextCodeInvalidCredentials) }

func IsForbidden(err error) bool { return HasTextCode(err, TextCodeForbidden) }

func IsStorageConflict(err error) bool { return HasTextCode(err, TextCodeStorageConflict) }

func IsAuditWriteFailure(err error) bool { return HasTextCode(err, TextCodeAuditWriteFailure) }

func IsNotFound(err error) bool {
	return HasTextCode(err, TextCodeNotFound) || HasTextCode(err, TextCodeVerificationNotFound)
}

// RedirectTo returns the redirect target carried by guard errors
func RedirectTo(err error) (string, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return "", false
	}
	to, ok := richErr.Metadata[MetaRedirectTo].(string)
	return to, ok && to != ""
}

func withRedirect(base *goerrors.Error, to string) *goerrors.Error {
	return base.Clone().WithMetadata(map[string]any{MetaRedirectTo: to})
}

// isUniqueViolation detects unique constraint violations for the
// postgres (pgx) and sqlite drivers we support.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// recordNotFound wraps repository.ErrRecordNotFound so callers can keep
// matching it with repository.IsRecordNotFound.
func recordNotFound(msg string, meta ...map[string]any) *goerrors.Error {
	return goerrors.Wrap(repository.ErrRecordNotFound, goerrors.CategoryNotFound, msg).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(meta...)
}

func mapStoreErr(err error, msg string) error {
	if IsStorageConflict(err) {
		return err
	}
	if isUniqueViolation(err) {
		return ErrStorageConflict.Clone().WithMetadata(map[string]any{"cause": err.Error()})
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
