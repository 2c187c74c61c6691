package minio

import (
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// Predefined errors
var (
	ErrObjectNotFound    = errors.New("minio: object not found")
	ErrInvalidArgument   = errors.New("minio: invalid argument")
	ErrInvalidBucketName = errors.New("minio: invalid bucket name")
	ErrInvalidObjectName = errors.New("minio: invalid object name")
	ErrConnectionFailed  = errors.New("minio: connection failed")
)

// Error carries the failed operation and bucket. Object keys are physical
// locations and are never rendered.
type Error struct {
	Op      string
	Err     error
	Bucket  string
	Message string
}

// Error returns the error message
func (e *Error) Error() string {
	cause := describe(e.Err)
	switch {
	case e.Bucket != "":
		return fmt.Sprintf("minio: %s failed for bucket=%s: %s", e.Op, e.Bucket, cause)
	case e.Message != "":
		return fmt.Sprintf("minio: %s failed: %s: %s", e.Op, e.Message, cause)
	}
	return fmt.Sprintf("minio: %s failed: %s", e.Op, cause)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// describe renders server responses by code only; their Key/Resource fields
// echo the object name.
func describe(err error) string {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return fmt.Sprintf("%s: %s (status %d)", resp.Code, resp.Message, resp.StatusCode)
	}
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// IsNotFound checks if the error is a "not found" error
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrObjectNotFound) {
		return true
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchBucket" || resp.Code == "NoSuchKey" || resp.Code == "NoSuchUpload"
	}
	return false
}

// IsBucketAlreadyExists checks if the error is a "bucket already exists" error
func IsBucketAlreadyExists(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "BucketAlreadyExists" || resp.Code == "BucketAlreadyOwnedByYou"
	}
	return false
}

// WrapError wraps an error with operation context
func WrapError(op string, err error, bucket string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Bucket: bucket}
}

// WrapErrorWithMessage wraps an error with operation context and a message
func WrapErrorWithMessage(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Message: message}
}
