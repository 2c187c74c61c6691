package minio

import (
	"errors"
	"mime"
	"net"
	"path"
	"strings"
)

const (
	minBucketNameLen = 3
	maxBucketNameLen = 63
	maxObjectNameLen = 1024
	defaultMediaType = "application/octet-stream"
)

var (
	errBucketNameLength = errors.New("bucket name must be 3-63 characters")
	errBucketNameChars  = errors.New("bucket name may only hold lowercase letters, digits and single hyphens, and must start and end with a letter or digit")
	errBucketNameIP     = errors.New("bucket name must not look like an IP address")
	errBucketNameAffix  = errors.New("bucket name uses a reserved prefix or suffix")
	errObjectName       = errors.New("object name must be 1-1024 bytes without NUL")
)

// ValidateBucketName checks a bucket name against the S3 naming rules the
// gateway relies on when it derives per-month buckets.
func ValidateBucketName(name string) error {
	if len(name) < minBucketNameLen || len(name) > maxBucketNameLen {
		return errBucketNameLength
	}
	if net.ParseIP(name) != nil {
		return errBucketNameIP
	}
	if strings.HasPrefix(name, "xn--") || strings.HasPrefix(name, "sthree-") ||
		strings.HasSuffix(name, "-s3alias") || strings.HasSuffix(name, "--ol-s3") {
		return errBucketNameAffix
	}
	prev := byte('-')
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
		case ch == '-' && prev != '-' && i < len(name)-1:
		default:
			return errBucketNameChars
		}
		prev = ch
	}
	return nil
}

// ValidateObjectName rejects keys S3-compatible servers refuse
func ValidateObjectName(name string) error {
	if name == "" || len(name) > maxObjectNameLen || strings.IndexByte(name, 0) >= 0 {
		return errObjectName
	}
	return nil
}

// contentTypeFor keeps the declared type and otherwise guesses from the
// object extension.
func contentTypeFor(objectName, declared string) string {
	if declared != "" {
		return declared
	}
	if t := mime.TypeByExtension(path.Ext(objectName)); t != "" {
		return t
	}
	return defaultMediaType
}
