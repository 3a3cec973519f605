package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_015"
)

// Short aliases used across the codebase
const (
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeUnauthorized   = ErrCodeUnauthorized
	CodeForbidden      = ErrCodeForbidden
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeRateLimit      = ErrCodeTooManyRequests
	CodeNotImplemented = ErrCodeNotImplemented
	CodeOK             = ErrorCode("OK")
	CodeUnknown        = ErrorCode("UNKNOWN")
)

// Configuration Error Codes — raised at construction time, before any
// sequence is processed.
const (
	ErrCodeConfigInvalid       ErrorCode = "CFG_001"
	ErrCodeAlphabetUnsupported ErrorCode = "CFG_002"
	ErrCodeEnergyValuesInvalid ErrorCode = "CFG_003"
	ErrCodeMutualInfoInvalid   ErrorCode = "CFG_004"
	ErrCodeConfigFileInvalid   ErrorCode = "CFG_005"
)

// Sequence Module Error Codes
const (
	ErrCodeSequenceEmpty          ErrorCode = "SEQ_001"
	ErrCodeSequenceTooShort       ErrorCode = "SEQ_002"
	ErrCodeSequenceInvalidSymbols ErrorCode = "SEQ_003"
	ErrCodeSequenceNotFound       ErrorCode = "SEQ_004"
	ErrCodeSequenceAlreadyExists  ErrorCode = "SEQ_005"
	ErrCodeSequenceTypeInvalid    ErrorCode = "SEQ_006"
	ErrCodeDatasetNotFound        ErrorCode = "SEQ_007"
)

// Encoding Module Error Codes
const (
	ErrCodeEncodingFailed      ErrorCode = "ENC_001"
	ErrCodeEncoderUnsupported  ErrorCode = "ENC_002"
	ErrCodeDimensionMismatch   ErrorCode = "ENC_003"
	ErrCodeEncodingJobInvalid  ErrorCode = "ENC_004"
	ErrCodeEncodingJobNotFound ErrorCode = "ENC_005"
)

// Ingestion Module Error Codes
const (
	ErrCodeIngestFormatUnsupported ErrorCode = "ING_001"
	ErrCodeIngestMalformed         ErrorCode = "ING_002"
	ErrCodeIngestColumnMissing     ErrorCode = "ING_003"
	ErrCodeIngestEmptyFile         ErrorCode = "ING_004"
)

// Storage Error Codes (relational, cache, object)
const (
	ErrCodeStorageUnavailable ErrorCode = "STO_001"
	ErrCodeStorageWriteFailed ErrorCode = "STO_002"
	ErrCodeStorageReadFailed  ErrorCode = "STO_003"
	ErrCodeLockNotAcquired    ErrorCode = "STO_004"
)

// Messaging Error Codes
const (
	ErrCodeMessagePublishFailed ErrorCode = "MSG_001"
	ErrCodeMessageConsumeFailed ErrorCode = "MSG_002"
	ErrCodeMessagePayloadBad    ErrorCode = "MSG_003"
	ErrCodeTopicInvalid         ErrorCode = "MSG_004"
)

// Search Error Codes (vector, text, graph)
const (
	ErrCodeVectorStoreFailed  ErrorCode = "SRCH_001"
	ErrCodeVectorSearchFailed ErrorCode = "SRCH_002"
	ErrCodeIndexingFailed     ErrorCode = "SRCH_003"
	ErrCodeTextSearchFailed   ErrorCode = "SRCH_004"
	ErrCodeGraphStoreFailed   ErrorCode = "SRCH_005"
	ErrCodeGraphQueryFailed   ErrorCode = "SRCH_006"
)

// Infrastructure aliases used by older call sites
const (
	CodeDatabaseError     = ErrCodeDatabaseError
	CodeCacheError        = ErrCodeCacheError
	CodeMessageQueueError = ErrCodeMessagePublishFailed
	CodeStorageError      = ErrCodeStorageWriteFailed
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeConfigInvalid:       http.StatusInternalServerError,
	ErrCodeAlphabetUnsupported: http.StatusBadRequest,
	ErrCodeEnergyValuesInvalid: http.StatusBadRequest,
	ErrCodeMutualInfoInvalid:   http.StatusBadRequest,
	ErrCodeConfigFileInvalid:   http.StatusInternalServerError,

	ErrCodeSequenceEmpty:          http.StatusBadRequest,
	ErrCodeSequenceTooShort:       http.StatusBadRequest,
	ErrCodeSequenceInvalidSymbols: http.StatusBadRequest,
	ErrCodeSequenceNotFound:       http.StatusNotFound,
	ErrCodeSequenceAlreadyExists:  http.StatusConflict,
	ErrCodeSequenceTypeInvalid:    http.StatusBadRequest,
	ErrCodeDatasetNotFound:        http.StatusNotFound,

	ErrCodeEncodingFailed:      http.StatusInternalServerError,
	ErrCodeEncoderUnsupported:  http.StatusBadRequest,
	ErrCodeDimensionMismatch:   http.StatusInternalServerError,
	ErrCodeEncodingJobInvalid:  http.StatusBadRequest,
	ErrCodeEncodingJobNotFound: http.StatusNotFound,

	ErrCodeIngestFormatUnsupported: http.StatusBadRequest,
	ErrCodeIngestMalformed:         http.StatusBadRequest,
	ErrCodeIngestColumnMissing:     http.StatusBadRequest,
	ErrCodeIngestEmptyFile:         http.StatusBadRequest,

	ErrCodeStorageUnavailable: http.StatusServiceUnavailable,
	ErrCodeStorageWriteFailed: http.StatusInternalServerError,
	ErrCodeStorageReadFailed:  http.StatusInternalServerError,
	ErrCodeLockNotAcquired:    http.StatusConflict,

	ErrCodeMessagePublishFailed: http.StatusInternalServerError,
	ErrCodeMessageConsumeFailed: http.StatusInternalServerError,
	ErrCodeMessagePayloadBad:    http.StatusBadRequest,
	ErrCodeTopicInvalid:         http.StatusInternalServerError,

	ErrCodeVectorStoreFailed:  http.StatusInternalServerError,
	ErrCodeVectorSearchFailed: http.StatusInternalServerError,
	ErrCodeIndexingFailed:     http.StatusInternalServerError,
	ErrCodeTextSearchFailed:   http.StatusInternalServerError,
	ErrCodeGraphStoreFailed:   http.StatusInternalServerError,
	ErrCodeGraphQueryFailed:   http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeConfigInvalid:       "invalid configuration",
	ErrCodeAlphabetUnsupported: "unsupported alphabet",
	ErrCodeEnergyValuesInvalid: "energy_values must be at least 1",
	ErrCodeMutualInfoInvalid:   "mutual_information_energy out of range",
	ErrCodeConfigFileInvalid:   "configuration file invalid",

	ErrCodeSequenceEmpty:          "sequence is empty",
	ErrCodeSequenceTooShort:       "sequence is too short",
	ErrCodeSequenceInvalidSymbols: "sequence contains symbols outside the alphabet",
	ErrCodeSequenceNotFound:       "sequence not found",
	ErrCodeSequenceAlreadyExists:  "sequence already exists",
	ErrCodeSequenceTypeInvalid:    "invalid sequence type",
	ErrCodeDatasetNotFound:        "dataset not found",

	ErrCodeEncodingFailed:      "encoding failed",
	ErrCodeEncoderUnsupported:  "unsupported encoder",
	ErrCodeDimensionMismatch:   "vector dimension mismatch",
	ErrCodeEncodingJobInvalid:  "invalid encoding job",
	ErrCodeEncodingJobNotFound: "encoding job not found",

	ErrCodeIngestFormatUnsupported: "unsupported input format",
	ErrCodeIngestMalformed:         "malformed input file",
	ErrCodeIngestColumnMissing:     "required column missing",
	ErrCodeIngestEmptyFile:         "input file contains no sequences",

	ErrCodeStorageUnavailable: "storage unavailable",
	ErrCodeStorageWriteFailed: "storage write failed",
	ErrCodeStorageReadFailed:  "storage read failed",
	ErrCodeLockNotAcquired:    "lock not acquired",

	ErrCodeMessagePublishFailed: "failed to publish message",
	ErrCodeMessageConsumeFailed: "failed to consume message",
	ErrCodeMessagePayloadBad:    "invalid message payload",
	ErrCodeTopicInvalid:         "invalid topic",

	ErrCodeVectorStoreFailed:  "vector store operation failed",
	ErrCodeVectorSearchFailed: "vector search failed",
	ErrCodeIndexingFailed:     "document indexing failed",
	ErrCodeTextSearchFailed:   "text search failed",
	ErrCodeGraphStoreFailed:   "graph store operation failed",
	ErrCodeGraphQueryFailed:   "graph query failed",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
