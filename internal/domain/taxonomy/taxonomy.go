// SPDX-License-Identifier: AGPL-3.0-or-later

// Package taxonomy classifies errors surfaced by validation, admission and
// provider dispatch into the retry/DLQ decision table from §4.5/§7: a
// category, a stable code, and whether the failure is retryable.
package taxonomy

import (
	"strings"

	"github.com/go-faster/errors"
)

type Category string

const (
	CategoryValidation    Category = "VALIDATION"
	CategoryPermanent     Category = "PERMANENT"
	CategoryConfiguration Category = "CONFIGURATION"
	CategoryQuota         Category = "QUOTA"
	CategoryTransient     Category = "TRANSIENT"
	CategoryTimeout       Category = "TIMEOUT"
)

// Retryable reports whether a job classified under this category should be
// rescheduled rather than moved straight to FAILED.
func (c Category) Retryable() bool {
	switch c {
	case CategoryQuota, CategoryTransient, CategoryTimeout:
		return true
	default:
		return false
	}
}

// Alert reports whether this category warrants an operator page (only
// CONFIGURATION_ERROR does, per the §4.5 error table).
func (c Category) Alert() bool {
	return c == CategoryConfiguration
}

// Code values mirror the taxonomy table in §7. They are stable strings
// used in email_logs.error_code and the HTTP error envelope.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeInvalidPayload         = "INVALID_PAYLOAD"
	CodeInvalidEmail           = "INVALID_EMAIL"
	CodeInvalidTemplate        = "INVALID_TEMPLATE"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeConflict               = "CONFLICT"
	CodePayloadTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeOutboxNotFound         = "OUTBOX_NOT_FOUND"
	CodeRecipientNotFound      = "RECIPIENT_NOT_FOUND"
	CodeProviderMessageRejected = "PROVIDER_MESSAGE_REJECTED"
	CodeProviderConfig         = "PROVIDER_CONFIG_ERROR"
	CodeProviderThrottling     = "PROVIDER_THROTTLING"
	CodeQuotaExceeded          = "QUOTA_EXCEEDED"
	CodeProviderServiceUnavail = "PROVIDER_SERVICE_UNAVAILABLE"
	CodeNetworkError           = "NETWORK_ERROR"
	CodeProviderTimeout        = "PROVIDER_TIMEOUT"
	CodeProviderCircuitOpen    = "PROVIDER_CIRCUIT_OPEN"
	CodeTTLExpired             = "TTL_EXPIRED"
	CodeUnknownError           = "UNKNOWN_ERROR"
)

var codeCategory = map[string]Category{
	CodeValidationError:         CategoryValidation,
	CodeInvalidPayload:          CategoryValidation,
	CodeInvalidEmail:            CategoryValidation,
	CodeInvalidTemplate:         CategoryValidation,
	CodeOutboxNotFound:          CategoryValidation,
	CodeRecipientNotFound:       CategoryValidation,
	CodeRateLimitExceeded:       CategoryQuota,
	CodeProviderMessageRejected: CategoryPermanent,
	CodeProviderConfig:          CategoryConfiguration,
	CodeProviderThrottling:      CategoryQuota,
	CodeQuotaExceeded:           CategoryQuota,
	CodeProviderServiceUnavail:  CategoryTransient,
	CodeNetworkError:            CategoryTransient,
	CodeProviderTimeout:         CategoryTimeout,
	CodeProviderCircuitOpen:     CategoryTransient,
	CodeTTLExpired:              CategoryTransient,
	CodeUnknownError:            CategoryTransient,
}

// ProviderError is the typed, categorized error a dispatch driver returns.
// It wraps the underlying cause via go-faster/errors so errors.Is/As keep
// working while the taxonomy fields ride along for the retry decision.
type ProviderError struct {
	Code     string
	Category Category
	Reason   string
	cause    error
}

func (e *ProviderError) Error() string {
	if e.cause != nil {
		// NewProviderError already wraps cause with Reason, so its message
		// carries the "reason: cause" form.
		return e.cause.Error()
	}
	return e.Reason
}

func (e *ProviderError) Unwrap() error { return e.cause }

func (e *ProviderError) Retryable() bool { return e.Category.Retryable() }

// NewProviderError builds a ProviderError, resolving the category from the
// code table when the caller doesn't already know it.
func NewProviderError(code, reason string, cause error) *ProviderError {
	cat, ok := codeCategory[code]
	if !ok {
		cat = CategoryTransient
	}
	return &ProviderError{Code: code, Category: cat, Reason: reason, cause: errors.Wrap(cause, reason)}
}

// ClassifySMTPReply maps an SMTP reply code to a taxonomy code: 4xx is
// always retryable (TRANSIENT), 5xx is always permanent, per §4.5.
func ClassifySMTPReply(code int) string {
	switch {
	case code >= 400 && code < 500:
		return CodeProviderServiceUnavail
	case code >= 500 && code < 600:
		return CodeProviderMessageRejected
	default:
		return CodeUnknownError
	}
}

// ClassifyErrorMessage does a best-effort string match against a raw
// provider error message when no structured error code is available —
// mirroring the teacher's categorizeError approach for SMTP errors.
func ClassifyErrorMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "throttl"), strings.Contains(lower, "dailyquotaexceeded"), strings.Contains(lower, "quota"):
		return CodeProviderThrottling
	case strings.Contains(lower, "messagerejected"), strings.Contains(lower, "accountsendingpaused"):
		return CodeProviderMessageRejected
	case strings.Contains(lower, "mailfromdomainnotverified"), strings.Contains(lower, "configuration"):
		return CodeProviderConfig
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return CodeProviderTimeout
	case strings.Contains(lower, "circuit"):
		return CodeProviderCircuitOpen
	case strings.Contains(lower, "connection"), strings.Contains(lower, "network"), strings.Contains(lower, "unavailable"):
		return CodeProviderServiceUnavail
	default:
		return CodeUnknownError
	}
}
