package cloud

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a named remote resource does not exist.
// Callers that treat absence as a normal condition (idempotent terminate,
// optional parameters) match on this type instead of string matching
// remote error messages.
type NotFoundError struct {
	// Resource is the resource category, e.g. "parameter" or
	// "provisioned-product".
	Resource string

	// Name identifies the missing resource.
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, name string) *NotFoundError {
	return &NotFoundError{Resource: resource, Name: name}
}

// IsNotFound returns true if the error chain contains a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// StoragePermissionError reports that the task output bucket rejected a
// write for permission reasons. Freshly attached bucket policies take a
// short while to propagate, so these are retried before failing the task.
type StoragePermissionError struct {
	// Bucket is the bucket that rejected the call.
	Bucket string

	// Operation is the storage operation that failed.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoragePermissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("access denied on bucket %q during %s: %v", e.Bucket, e.Operation, e.Err)
	}
	return fmt.Sprintf("access denied on bucket %q during %s", e.Bucket, e.Operation)
}

// Unwrap returns the underlying error.
func (e *StoragePermissionError) Unwrap() error {
	return e.Err
}

// NewStoragePermissionError creates a StoragePermissionError.
func NewStoragePermissionError(bucket, operation string, err error) *StoragePermissionError {
	return &StoragePermissionError{Bucket: bucket, Operation: operation, Err: err}
}

// IsStoragePermission returns true if the error chain contains a
// StoragePermissionError.
func IsStoragePermission(err error) bool {
	var e *StoragePermissionError
	return errors.As(err, &e)
}
