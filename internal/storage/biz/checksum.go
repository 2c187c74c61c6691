package biz

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

// ChecksumAlgorithm 校验和算法
type ChecksumAlgorithm string

const (
	AlgorithmSHA256 ChecksumAlgorithm = "SHA-256"
	AlgorithmMD5    ChecksumAlgorithm = "MD5"
)

const checksumBufferSize = 32 * 1024

// ParseChecksumAlgorithm 解析算法名称，接受 "SHA-256"、"sha256"、"MD5" 等写法
func ParseChecksumAlgorithm(s string) (ChecksumAlgorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "")) {
	case "SHA256":
		return AlgorithmSHA256, nil
	case "MD5":
		return AlgorithmMD5, nil
	}
	return "", errChecksum("unsupported checksum algorithm %q", s)
}

func (a ChecksumAlgorithm) hexLen() int {
	switch a {
	case AlgorithmSHA256:
		return sha256.Size * 2
	case AlgorithmMD5:
		return md5.Size * 2
	}
	return 0
}

func (a ChecksumAlgorithm) newHash() hash.Hash {
	if a == AlgorithmMD5 {
		return md5.New()
	}
	return sha256.New()
}

// FileChecksum 不可变的内容摘要，既是去重键也是完整性校验值
type FileChecksum struct {
	algorithm ChecksumAlgorithm
	value     string
}

// NewFileChecksum 校验摘要长度与字符集后构造；摘要统一为小写
func NewFileChecksum(algorithm ChecksumAlgorithm, value string) (FileChecksum, error) {
	n := algorithm.hexLen()
	if n == 0 {
		return FileChecksum{}, errChecksum("unsupported checksum algorithm %q", algorithm)
	}
	value = strings.ToLower(value)
	if len(value) != n {
		return FileChecksum{}, errChecksum("%s digest must be %d hex characters, got %d", algorithm, n, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return FileChecksum{}, errChecksum("%s digest is not hex", algorithm)
	}
	return FileChecksum{algorithm: algorithm, value: value}, nil
}

// ComputeChecksum 以固定大小缓冲读完 r 并返回摘要，读取失败时不返回部分结果
func ComputeChecksum(r io.Reader, algorithm ChecksumAlgorithm) (FileChecksum, error) {
	if algorithm.hexLen() == 0 {
		return FileChecksum{}, errChecksum("unsupported checksum algorithm %q", algorithm)
	}
	h := algorithm.newHash()
	buf := make([]byte, checksumBufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return FileChecksum{}, fmt.Errorf("compute checksum: %w", err)
	}
	return FileChecksum{algorithm: algorithm, value: hex.EncodeToString(h.Sum(nil))}, nil
}

func (c FileChecksum) Algorithm() ChecksumAlgorithm { return c.algorithm }
func (c FileChecksum) Value() string                { return c.value }
func (c FileChecksum) IsZero() bool                 { return c.value == "" }

// Matches 比较客户端提供的十六进制摘要（忽略大小写）
func (c FileChecksum) Matches(hexDigest string) bool {
	return strings.EqualFold(c.value, strings.TrimSpace(hexDigest))
}

func (c FileChecksum) String() string {
	return string(c.algorithm) + ":" + c.value
}
