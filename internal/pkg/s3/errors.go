package s3

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

var (
	// ErrObjectNotFound indicates that the key or bucket does not exist
	ErrObjectNotFound = errors.New("s3: object not found")

	// ErrClientClosed indicates use after Close
	ErrClientClosed = errors.New("s3: client is closed")
)

// Error carries the failed operation and bucket. Keys are never rendered.
type Error struct {
	Op     string
	Bucket string
	Err    error
}

func (e *Error) Error() string {
	if e.Bucket != "" {
		return fmt.Sprintf("s3: %s failed for bucket=%s: %s", e.Op, e.Bucket, describe(e.Err))
	}
	return fmt.Sprintf("s3: %s failed: %s", e.Op, describe(e.Err))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// describe keeps only the service error code and message; the SDK's
// operation errors embed the request URL, which contains the key.
func describe(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Sprintf("http status %d", respErr.HTTPStatusCode())
	}
	var opErr *smithy.OperationError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("%s %s: %T", opErr.ServiceID, opErr.OperationName, opErr.Err)
	}
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func wrap(op, bucket string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		err = fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}
	return &Error{Op: op, Bucket: bucket, Err: err}
}

// IsNotFound reports whether err means the object or bucket is missing
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound) || isNotFound(err)
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

// IsBucketOwned reports CreateBucket races that leave the bucket usable
func IsBucketOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

