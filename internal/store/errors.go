package store

import "codeberg.org/mutker/healthsynth/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath  = errors.ErrorCode("store_invalid_db_path")
	ErrUnknownBackend = errors.ErrorCode("store_unknown_backend")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrorCode("store_init_failed")
	ErrStorageClose = errors.ErrorCode("store_close_failed")
	ErrClosed       = errors.ErrorCode("store_closed")

	// Job Errors
	ErrTypeUnavailable = errors.ErrorCode("store_type_unavailable")
	ErrSaveFailed      = errors.ErrorCode("store_save_failed")
	ErrDeleteFailed    = errors.ErrorCode("store_delete_failed")
	ErrInvalidSample   = errors.ErrorCode("store_invalid_sample")
)

func init() {
	errors.RegisterMessage(ErrTypeUnavailable, "Sample type not available")
	errors.RegisterMessage(ErrSaveFailed, "Failed to save samples")
	errors.RegisterMessage(ErrDeleteFailed, "Failed to delete samples")
	errors.RegisterMessage(ErrClosed, "Store is closed")
	errors.RegisterMessage(ErrUnknownBackend, "Unknown store backend")
}
