package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Workspace & filesystem errors
// 12000-12999: Execution errors
// 13000-13999: Token & download errors
// 14000-14999: Upload & hosting errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10004
	ShuttingDown        ErrorCode = 10005

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Workspace & Filesystem Errors (11000-11999) ==========

	ResourceError      ErrorCode = 11000
	WorkspaceCreate    ErrorCode = 11001
	WorkspaceDestroy   ErrorCode = 11002
	ScriptWriteFailed  ErrorCode = 11003
	ArtifactScanFailed ErrorCode = 11004

	// ========== Execution Errors (12000-12999) ==========

	SpawnError     ErrorCode = 12000
	TimeoutError   ErrorCode = 12001
	ExecutionError ErrorCode = 12002
	OutputTooLarge ErrorCode = 12003

	// ========== Token & Download Errors (13000-13999) ==========

	TokenNotFound   ErrorCode = 13000
	TokenExpired    ErrorCode = 13001
	TokenMintFailed ErrorCode = 13002
	RegistryError   ErrorCode = 13003

	// ========== Upload & Hosting Errors (14000-14999) ==========

	UploadMissing   ErrorCode = 14000
	PayloadTooLarge ErrorCode = 14001
	UploadFailed    ErrorCode = 14002
	ArchiveError    ErrorCode = 14003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	ShuttingDown:        "Server is shutting down",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Workspace
	ResourceError:      "Workspace resource failure",
	WorkspaceCreate:    "Failed to create workspace",
	WorkspaceDestroy:   "Failed to destroy workspace",
	ScriptWriteFailed:  "Failed to write script file",
	ArtifactScanFailed: "Failed to scan workspace for artifacts",

	// Execution
	SpawnError:     "Failed to start process",
	TimeoutError:   "Execution timed out",
	ExecutionError: "Execution failed",
	OutputTooLarge: "Process output exceeded the size limit",

	// Token & Download
	TokenNotFound:   "Download token not found",
	TokenExpired:    "Download token has expired",
	TokenMintFailed: "Failed to mint download token",
	RegistryError:   "Token registry operation failed",

	// Upload & Hosting
	UploadMissing:   "No file provided in upload",
	PayloadTooLarge: "Uploaded file is too large",
	UploadFailed:    "Failed to store uploaded file",
	ArchiveError:    "Artifact archive operation failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code.
// Execution failures (timeout, non-zero exit) map to 200 on purpose: the
// request itself was served, the body carries success:false so clients can
// tell a failed run from a failed server.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success, TimeoutError, ExecutionError:
		return 200
	case InvalidParams, ValidationFailed, InvalidFormat, RequiredFieldEmpty, UploadMissing:
		return 400
	case NotFound, TokenNotFound:
		return 404
	case TokenExpired:
		return 410
	case PayloadTooLarge:
		return 413
	case ServiceUnavailable, ShuttingDown:
		return 503
	default:
		return 500
	}
}
