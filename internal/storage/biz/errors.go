package biz

import (
	"errors"
	"fmt"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
)

// ErrDuplicateChecksum 仓储在唯一校验和索引冲突时返回（并发去重竞争）
var ErrDuplicateChecksum = errors.New("file with same checksum already exists")

func errFileNotFound(id string) error {
	return apperrors.New(apperrors.ErrFileNotFound, fmt.Sprintf("file %s", id))
}

func errFileNotOwned(id string) error {
	return apperrors.New(apperrors.ErrFileNotOwned, fmt.Sprintf("file %s", id))
}

func errSessionNotOwned(id string) error {
	return apperrors.New(apperrors.ErrSessionNotOwned, fmt.Sprintf("session %s", id))
}

func errInvalid(format string, args ...any) error {
	return apperrors.New(apperrors.ErrInvalidParams, fmt.Sprintf(format, args...))
}

func errChecksum(format string, args ...any) error {
	return apperrors.New(apperrors.ErrChecksumInvalid, fmt.Sprintf(format, args...))
}

// errEncryption 包装加解密失败；底层错误只描述失败类别，不含明文
func errEncryption(op string, err error) error {
	if apperrors.IsKind(err, apperrors.KindEncryptionFailure) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrEncryptionFailure, op)
}
