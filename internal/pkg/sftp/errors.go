package sftp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"

	"github.com/pkg/sftp"
)

var (
	// ErrNotFound indicates the remote file does not exist
	ErrNotFound = errors.New("sftp: file not found")

	// ErrClientClosed indicates use after Close
	ErrClientClosed = errors.New("sftp: client is closed")
)

// Error carries the failed operation. Remote paths are never rendered.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sftp: %s failed: %s", e.Op, describe(e.Err))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// describe drops the path that fs.PathError and net.OpError carry
func describe(err error) string {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Op + ": " + describe(pathErr.Err)
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("status %d", statusErr.Code)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op + ": " + describe(opErr.Err)
	}
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) && !errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return &Error{Op: op, Err: err}
}

// IsNotFound reports whether err means the remote file is missing
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var statusErr *sftp.StatusError
	return errors.As(err, &statusErr) && statusErr.Code == uint32(sftp.ErrSSHFxNoSuchFile)
}

// IsConnectionLost reports whether the session is unusable and must be redialed
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClientClosed) || errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
