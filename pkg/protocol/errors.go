package protocol

// Error codes carried in the "code" field of failed responses.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrInvalidArgument = "INVALID_ARGUMENT"
	ErrStorage         = "STORAGE_ERROR"
	ErrDisabled        = "FEATURE_DISABLED"

	ErrUnauthorized      = "UNAUTHORIZED"
	ErrResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrInternal          = "INTERNAL"
)

// StorageFailureMessage is the user-facing text for StorageError responses.
const StorageFailureMessage = "operation failed, try again"
