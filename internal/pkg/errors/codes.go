package errors

import (
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that only care about the failure category.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidState
	KindNoAvailableNodes
	KindBackendFailure
	KindEncryptionFailure
	KindValidationFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidState:
		return "invalid_state"
	case KindNoAvailableNodes:
		return "no_available_nodes"
	case KindBackendFailure:
		return "backend_failure"
	case KindEncryptionFailure:
		return "encryption_failure"
	case KindValidationFailure:
		return "validation_failure"
	default:
		return "internal"
	}
}

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Kind    Kind   // Taxonomy kind
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Auth errors (2000-2999)
	ErrAuthInvalidToken = 2006
	ErrAuthTokenExpired = 2007

	// Storage errors (6000-6999)
	ErrFileNotFound       = 6000
	ErrNodeNotFound       = 6001
	ErrSessionNotFound    = 6002
	ErrObjectNotFound     = 6003
	ErrKeyNotFound        = 6004
	ErrFileNotOwned       = 6100
	ErrSessionNotOwned    = 6101
	ErrFileNotActive      = 6200
	ErrSessionExpired     = 6201
	ErrSessionClosed      = 6202
	ErrChunkOutOfRange    = 6203
	ErrMissingChunks      = 6204
	ErrPresignUnsupported = 6205
	ErrContentQuarantined = 6206
	ErrNoAvailableNodes   = 6300
	ErrBackendFailure     = 6400
	ErrEncryptionFailure  = 6500
	ErrChecksumInvalid    = 6600
	ErrChecksumMismatch   = 6601
	ErrSizeMismatch       = 6602
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, KindInternal, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, KindInternal, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, KindValidationFailure, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, KindNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, KindUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, KindUnauthorized, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, KindInvalidState, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, KindInternal, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, KindValidationFailure, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, KindBackendFailure, "Service unavailable"},

	// Auth errors
	ErrAuthInvalidToken: {ErrAuthInvalidToken, http.StatusUnauthorized, KindUnauthorized, "Invalid or expired token"},
	ErrAuthTokenExpired: {ErrAuthTokenExpired, http.StatusUnauthorized, KindUnauthorized, "Token expired"},

	// Storage errors
	ErrFileNotFound:       {ErrFileNotFound, http.StatusNotFound, KindNotFound, "File not found"},
	ErrNodeNotFound:       {ErrNodeNotFound, http.StatusNotFound, KindNotFound, "Storage node not found"},
	ErrSessionNotFound:    {ErrSessionNotFound, http.StatusNotFound, KindNotFound, "Upload session not found"},
	ErrObjectNotFound:     {ErrObjectNotFound, http.StatusNotFound, KindNotFound, "Stored object not found"},
	ErrKeyNotFound:        {ErrKeyNotFound, http.StatusInternalServerError, KindEncryptionFailure, "Encryption key not found"},
	ErrFileNotOwned:       {ErrFileNotOwned, http.StatusForbidden, KindUnauthorized, "File belongs to another owner"},
	ErrSessionNotOwned:    {ErrSessionNotOwned, http.StatusForbidden, KindUnauthorized, "Upload session belongs to another owner"},
	ErrFileNotActive:      {ErrFileNotActive, http.StatusConflict, KindInvalidState, "File is not available"},
	ErrSessionExpired:     {ErrSessionExpired, http.StatusConflict, KindInvalidState, "Upload session expired"},
	ErrSessionClosed:      {ErrSessionClosed, http.StatusConflict, KindInvalidState, "Upload session is closed"},
	ErrChunkOutOfRange:    {ErrChunkOutOfRange, http.StatusConflict, KindInvalidState, "Chunk number out of range"},
	ErrMissingChunks:      {ErrMissingChunks, http.StatusConflict, KindInvalidState, "Upload session has missing chunks"},
	ErrPresignUnsupported: {ErrPresignUnsupported, http.StatusConflict, KindInvalidState, "Backend does not support presigned URLs"},
	ErrContentQuarantined: {ErrContentQuarantined, http.StatusConflict, KindInvalidState, "Content is quarantined"},
	ErrNoAvailableNodes:   {ErrNoAvailableNodes, http.StatusServiceUnavailable, KindNoAvailableNodes, "No storage node available"},
	ErrBackendFailure:     {ErrBackendFailure, http.StatusServiceUnavailable, KindBackendFailure, "Storage backend failure"},
	ErrEncryptionFailure:  {ErrEncryptionFailure, http.StatusInternalServerError, KindEncryptionFailure, "Encryption failure"},
	ErrChecksumInvalid:    {ErrChecksumInvalid, http.StatusBadRequest, KindValidationFailure, "Invalid checksum"},
	ErrChecksumMismatch:   {ErrChecksumMismatch, http.StatusBadRequest, KindValidationFailure, "Checksum mismatch"},
	ErrSizeMismatch:       {ErrSizeMismatch, http.StatusBadRequest, KindValidationFailure, "Size mismatch"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// GetKind returns the taxonomy kind for a given error code
func GetKind(code int) Kind {
	return GetCode(code).Kind
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
