package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Submission & Judge errors
// 16000-16999: Admin & Permission errors
// 17000-17999: Remote judge errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007

	// Storage errors (10100-10299)
	DatabaseError ErrorCode = 10100
	CacheError    ErrorCode = 10200

	// Validation errors (10300-10399)
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Submission & Judge Errors (13000-13999) ==========

	LanguageNotSupported ErrorCode = 13003

	// ========== Admin & Permission Errors (16000-16999) ==========

	TokenExpired           ErrorCode = 16010
	TokenInvalid           ErrorCode = 16011
	InsufficientPermission ErrorCode = 16001

	// ========== Remote Judge Errors (17000-17999) ==========

	// Provider registry (17000-17099)
	ProviderAlreadyRegistered ErrorCode = 17000
	ProviderCreateFailed      ErrorCode = 17002
	ProviderStatusFailed      ErrorCode = 17003

	// Remote account (17100-17199)
	RemoteLoginFailed     ErrorCode = 17101
	RemoteSessionSaveFail ErrorCode = 17102

	// Remote protocol (17200-17299)
	RemoteSubmitFailed ErrorCode = 17201
	RemoteFetchFailed  ErrorCode = 17202
	RemoteWaitTimeout  ErrorCode = 17204

	// Catalogue sync (17300-17399)
	ImportFailed       ErrorCode = 17302
	LanguageMergeError ErrorCode = 17303
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",

	DatabaseError: "Database operation failed",
	CacheError:    "Cache operation failed",

	RequiredFieldEmpty: "Required field is empty",

	LanguageNotSupported: "Programming language not supported",

	TokenExpired:           "Token has expired",
	TokenInvalid:           "Invalid token",
	InsufficientPermission: "Insufficient permission",

	ProviderAlreadyRegistered: "Provider type already registered",
	ProviderCreateFailed:      "Failed to create provider",
	ProviderStatusFailed:      "Provider status check failed",

	RemoteLoginFailed:     "Remote login failed",
	RemoteSessionSaveFail: "Failed to persist remote session",

	RemoteSubmitFailed: "Remote submission failed",
	RemoteFetchFailed:  "Failed to fetch remote problem",
	RemoteWaitTimeout:  "Timed out waiting for remote verdict",

	ImportFailed:       "Problem import failed",
	LanguageMergeError: "Failed to merge language table",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == TokenExpired, c == TokenInvalid:
		return 401
	case c >= 16000 && c < 16010:
		return 403
	case c == NotFound:
		return 404
	case c == ProviderAlreadyRegistered:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c >= 17200 && c < 17300:
		return 502
	case c >= 10300 && c < 10400, c == InvalidParams:
		return 400
	default:
		return 500
	}
}
