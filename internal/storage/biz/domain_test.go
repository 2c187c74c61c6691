package biz

import (
	"strings"
	"testing"
	"testing/iotest"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChecksum(t *testing.T) {
	sha, err := ComputeChecksum(strings.NewReader("hello"), AlgorithmSHA256)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sha.Value())
	assert.Equal(t, "SHA-256:"+sha.Value(), sha.String())

	md, err := ComputeChecksum(strings.NewReader("hello"), AlgorithmMD5)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", md.Value())

	_, err = ComputeChecksum(iotest.ErrReader(assert.AnError), AlgorithmSHA256)
	require.ErrorIs(t, err, assert.AnError)

	_, err = ComputeChecksum(strings.NewReader("x"), ChecksumAlgorithm("CRC32"))
	requireKind(t, err, apperrors.KindValidationFailure)
}

func TestNewFileChecksum(t *testing.T) {
	tests := []struct {
		name    string
		alg     ChecksumAlgorithm
		value   string
		wantErr bool
	}{
		{"sha256 uppercase normalised", AlgorithmSHA256, strings.Repeat("AB", 32), false},
		{"md5", AlgorithmMD5, strings.Repeat("0f", 16), false},
		{"wrong length", AlgorithmSHA256, strings.Repeat("a", 63), true},
		{"not hex", AlgorithmMD5, strings.Repeat("zz", 16), true},
		{"unknown algorithm", ChecksumAlgorithm("SHA-1"), strings.Repeat("a", 40), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := NewFileChecksum(tt.alg, tt.value)
			if tt.wantErr {
				requireKind(t, err, apperrors.KindValidationFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(tt.value), sum.Value())
			assert.True(t, sum.Matches(strings.ToUpper(tt.value)))
		})
	}
}

func TestParseChecksumAlgorithm(t *testing.T) {
	for in, want := range map[string]ChecksumAlgorithm{"SHA-256": AlgorithmSHA256, "sha256": AlgorithmSHA256, "md5": AlgorithmMD5} {
		got, err := ParseChecksumAlgorithm(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseChecksumAlgorithm("crc32")
	assert.Error(t, err)
}

func TestParseBackendType(t *testing.T) {
	for in, want := range map[string]BackendType{
		"minio":           BackendObjectStoreA,
		"OBJECT_STORE_B":  BackendObjectStoreB,
		"s3":              BackendObjectStoreB,
		" sftp ":          BackendTransferServer,
		"TRANSFER_SERVER": BackendTransferServer,
	} {
		got, err := ParseBackendType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseBackendType("ftp")
	requireKind(t, err, apperrors.KindValidationFailure)

	assert.True(t, BackendObjectStoreA.IsObjectStore())
	assert.False(t, BackendTransferServer.IsObjectStore())
}

func TestNodeEligibility(t *testing.T) {
	tests := []struct {
		name     string
		node     StorageNode
		eligible bool
		readable bool
	}{
		{"active with room", StorageNode{Status: NodeActive, UsedCapacity: 10, TotalCapacity: 100}, true, true},
		{"active at threshold", StorageNode{Status: NodeActive, UsedCapacity: 95, TotalCapacity: 100}, false, true},
		{"unknown capacity", StorageNode{Status: NodeActive}, false, true},
		{"full", StorageNode{Status: NodeFull, UsedCapacity: 99, TotalCapacity: 100}, false, true},
		{"maintenance", StorageNode{Status: NodeMaintenance, TotalCapacity: 100}, false, false},
		{"offline", StorageNode{Status: NodeOffline, TotalCapacity: 100}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eligible, tt.node.IsEligible())
			assert.Equal(t, tt.readable, tt.node.IsReadable())
		})
	}
}

func TestNodeSpecValidate(t *testing.T) {
	valid := NodeSpec{NodeID: "n1", BackendType: BackendTransferServer, Endpoint: "sftp://gw@files.local:2222", TotalCapacity: 1}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*NodeSpec){
		"missing id":       func(s *NodeSpec) { s.NodeID = "" },
		"unknown backend":  func(s *NodeSpec) { s.BackendType = "NFS" },
		"missing endpoint": func(s *NodeSpec) { s.Endpoint = "" },
		"sftp without url": func(s *NodeSpec) { s.Endpoint = "files.local:22" },
		"zero capacity":    func(s *NodeSpec) { s.TotalCapacity = 0 },
		"bad status":       func(s *NodeSpec) { s.Status = "BROKEN" },
	} {
		t.Run(name, func(t *testing.T) {
			spec := valid
			mutate(&spec)
			requireKind(t, spec.Validate(), apperrors.KindValidationFailure)
		})
	}
}

func TestPathGeneration(t *testing.T) {
	now := time.Date(2025, 1, 7, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, "files-2025-01", DefaultBucket(now))
	assert.Equal(t, "files-2025-01", BucketFor(&StorageNode{BackendType: BackendObjectStoreB}, now))
	assert.Equal(t, "media", BucketFor(&StorageNode{BackendType: BackendObjectStoreA, Bucket: "media"}, now))
	assert.Empty(t, BucketFor(&StorageNode{BackendType: BackendTransferServer, Bucket: "ignored"}, now))

	assert.Equal(t, "2025/01/07/users/u-1", BasePath(BackendObjectStoreA, "u-1", now))
	assert.Equal(t, "users/u-1", BasePath(BackendTransferServer, "u-1", now))
	assert.Equal(t, "f1_report_final.pdf", ObjectName("f1", "report final.pdf"))
	assert.Equal(t, "chunks/s1", ChunkBasePath("s1"))
	assert.Equal(t, "movie.mp4_chunk_12", ChunkName("movie.mp4", 12))
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\notes.txt`: "notes.txt",
		"..":                    "file",
		"résumé (1).doc":        "r_sum_1_.doc",
		"":                      "file",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFileName(in), in)
	}
	assert.Len(t, SanitizeFileName(strings.Repeat("a", 300)+".txt"), maxObjectNameLen)
}

func TestNewStorageReference(t *testing.T) {
	blob := "AES-256-GCM:AAAAAAAAAAAAAAAA:AAAAAAAAAAAAAAAAAAAAAA=="
	ref, err := NewStorageReference(BackendObjectStoreA, "n1", blob, "k1", "b", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "OBJECT_STORE_A@n1(key=k1)", ref.String())

	_, err = NewStorageReference("NFS", "n1", blob, "k1", "", "")
	requireKind(t, err, apperrors.KindValidationFailure)
	_, err = NewStorageReference(BackendObjectStoreA, "", blob, "k1", "", "")
	requireKind(t, err, apperrors.KindValidationFailure)
	_, err = NewStorageReference(BackendObjectStoreA, "n1", blob, "", "", "")
	requireKind(t, err, apperrors.KindValidationFailure)
	_, err = NewStorageReference(BackendObjectStoreA, "n1", "/plain/path", "k1", "", "")
	requireKind(t, err, apperrors.KindEncryptionFailure)
}

func TestNewFileAggregate(t *testing.T) {
	blob := "AES-256-GCM:AAAAAAAAAAAAAAAA:AAAAAAAAAAAAAAAAAAAAAA=="
	ref, err := NewStorageReference(BackendObjectStoreA, "n1", blob, "k1", "", "")
	require.NoError(t, err)
	sum, err := ComputeChecksum(strings.NewReader("x"), AlgorithmSHA256)
	require.NoError(t, err)

	f, err := NewFileAggregate("f1", FileMetadata{Name: "a", OwnerID: "u1", Size: 1}, ref, sum)
	require.NoError(t, err)
	assert.Equal(t, FileActive, f.Metadata().Status)
	assert.Equal(t, "application/octet-stream", f.Metadata().ContentType)
	assert.True(t, f.IsOwnedBy("u1"))
	assert.True(t, f.CanDownload())

	_, err = NewFileAggregate("f1", FileMetadata{Name: "a", OwnerID: "u1"}, StorageReference{}, sum)
	requireKind(t, err, apperrors.KindValidationFailure)
	_, err = NewFileAggregate("f1", FileMetadata{Name: "a", OwnerID: "u1"}, ref, FileChecksum{})
	requireKind(t, err, apperrors.KindValidationFailure)
	_, err = NewFileAggregate("f1", FileMetadata{Name: "a", OwnerID: "u1", Status: "ARCHIVED"}, ref, sum)
	requireKind(t, err, apperrors.KindValidationFailure)
	_, err = NewFileAggregate("f1", FileMetadata{Name: "a", OwnerID: "u1", Size: -1}, ref, sum)
	requireKind(t, err, apperrors.KindValidationFailure)
}
