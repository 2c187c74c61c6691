package biz

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upload(t *testing.T, h *harness, owner, name, content string) *UploadResult {
	t.Helper()
	res, err := h.files.Upload(context.Background(), &UploadRequest{
		OwnerID:     owner,
		FileName:    name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Content:     strings.NewReader(content),
	})
	require.NoError(t, err)
	return res
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()

	// 超过 spool 阈值，走临时文件
	content := strings.Repeat("gateway payload ", 20)
	res := upload(t, h, "alice", "../../etc/report.txt", content)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, "minio-1", res.NodeID)

	meta := res.File.Metadata()
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.Equal(t, FileActive, meta.Status)
	assert.Equal(t, "text/plain", meta.ContentType)

	ref := res.File.Reference()
	assert.NotContains(t, ref.EncryptedPath(), "report")
	assert.NotContains(t, ref.String(), "report")
	assert.Equal(t, "files-2025-03", ref.Bucket())

	dl, err := h.files.Download(ctx, res.File.ID(), "alice")
	require.NoError(t, err)
	defer dl.Content.Close()
	got, err := io.ReadAll(dl.Content)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	node := h.node(t, "minio-1")
	assert.Equal(t, int64(len(content)), node.UsedCapacity)
	assert.Equal(t, int64(1), node.FileCount)
}

func TestUploadPhysicalLayout(t *testing.T) {
	h := newHarness(t, testNode("sftp-1", BackendTransferServer, 0, 1<<30))
	res := upload(t, h, "alice", "notes.md", "hello")

	ref := res.File.Reference()
	physical, err := h.enc.DecryptPath(context.Background(), ref.EncryptedPath(), ref.KeyRef())
	require.NoError(t, err)
	assert.Equal(t, "/users/alice/"+res.File.ID()+"_notes.md", physical)
	assert.Empty(t, ref.Bucket())
}

func TestUploadDeduplicatesPerOwner(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))

	first := upload(t, h, "alice", "a.txt", "same bytes")
	second := upload(t, h, "alice", "b.txt", "same bytes")

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.File.ID(), second.File.ID())
	assert.Equal(t, first.File.Reference(), second.File.Reference())

	node := h.node(t, "minio-1")
	assert.Equal(t, int64(len("same bytes")), node.UsedCapacity)
	assert.Equal(t, int64(1), node.FileCount)
	assert.Equal(t, 1, h.backend.count("minio-1"))
	assert.Len(t, h.events.byKind("virus_scan"), 1)

	other := upload(t, h, "bob", "a.txt", "same bytes")
	assert.False(t, other.Deduplicated)
	assert.NotEqual(t, first.File.ID(), other.File.ID())
}

func TestUploadDedupQuarantinedAndDeleted(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()

	first := upload(t, h, "alice", "a.txt", "suspicious")
	require.NoError(t, h.fileRepo.setStatus(first.File.ID(), FileQuarantined))

	_, err := h.files.Upload(ctx, &UploadRequest{OwnerID: "alice", FileName: "again.txt", Content: strings.NewReader("suspicious")})
	requireKind(t, err, apperrors.KindInvalidState)
	assert.True(t, apperrors.Is(err, apperrors.ErrContentQuarantined))

	require.NoError(t, h.fileRepo.setStatus(first.File.ID(), FileDeleted))
	res, err := h.files.Upload(ctx, &UploadRequest{OwnerID: "alice", FileName: "restored.txt", ContentType: "text/markdown", Content: strings.NewReader("suspicious")})
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Equal(t, first.File.ID(), res.File.ID())
	assert.Equal(t, FileActive, res.File.Metadata().Status)
	assert.Equal(t, "restored.txt", res.File.Metadata().Name)
	assert.Equal(t, "text/markdown", res.File.Metadata().ContentType)

	stored, err := h.fileRepo.FindByID(ctx, first.File.ID())
	require.NoError(t, err)
	assert.Equal(t, FileActive, stored.Metadata().Status)
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()

	tests := []struct {
		name string
		req  *UploadRequest
		code int
	}{
		{"missing owner", &UploadRequest{FileName: "a", Content: strings.NewReader("x")}, apperrors.ErrInvalidParams},
		{"missing name", &UploadRequest{OwnerID: "alice", FileName: "  ", Content: strings.NewReader("x")}, apperrors.ErrInvalidParams},
		{"missing content", &UploadRequest{OwnerID: "alice", FileName: "a"}, apperrors.ErrInvalidParams},
		{"size mismatch", &UploadRequest{OwnerID: "alice", FileName: "a", Size: 10, Content: strings.NewReader("x")}, apperrors.ErrSizeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.files.Upload(ctx, tt.req)
			requireKind(t, err, apperrors.KindValidationFailure)
			assert.True(t, apperrors.Is(err, tt.code))
		})
	}
	assert.Equal(t, 0, h.backend.count(""))
}

func TestUploadMaxSize(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	h.files.cfg.MaxUploadSize = 4

	_, err := h.files.Upload(context.Background(), &UploadRequest{OwnerID: "alice", FileName: "a", Content: strings.NewReader("12345")})
	requireKind(t, err, apperrors.KindValidationFailure)
}

func TestUploadNoAvailableNodes(t *testing.T) {
	h := newHarness(t, testNode("full-1", BackendObjectStoreA, 96, 100))
	_, err := h.files.Upload(context.Background(), &UploadRequest{OwnerID: "alice", FileName: "a", Content: strings.NewReader("x")})
	requireKind(t, err, apperrors.KindNoAvailableNodes)
}

func TestUploadBackendFailureLeavesNoMetadata(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	h.backend.failNext = apperrors.New(apperrors.ErrBackendFailure, "put failed")

	_, err := h.files.Upload(context.Background(), &UploadRequest{OwnerID: "alice", FileName: "a", Content: strings.NewReader("x")})
	requireKind(t, err, apperrors.KindBackendFailure)

	files, total, err := h.fileRepo.ListByOwner(context.Background(), "alice", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Zero(t, total)
	assert.Zero(t, h.node(t, "minio-1").FileCount)
}

func TestUploadPublishesLocationWithoutPlaintext(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	res := upload(t, h, "alice", "secret-plan.pdf", "%PDF")

	uploaded := h.events.byKind("uploaded")
	require.Len(t, uploaded, 1)
	assert.Equal(t, res.File.ID(), uploaded[0].FileID)

	scans := h.events.byKind("virus_scan")
	require.Len(t, scans, 1)
	loc := scans[0].Location
	assert.Equal(t, "minio-1", loc.NodeID)
	assert.Equal(t, BackendObjectStoreA, loc.BackendType)
	assert.NotContains(t, loc.EncryptedPath, "secret-plan")
	assert.Equal(t, res.File.Reference().KeyRef(), loc.KeyRef)
}

func TestDownloadOwnership(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()
	res := upload(t, h, "alice", "a.txt", "private")

	_, err := h.files.Download(ctx, res.File.ID(), "mallory")
	requireKind(t, err, apperrors.KindUnauthorized)

	_, err = h.files.Download(ctx, "does-not-exist", "alice")
	requireKind(t, err, apperrors.KindNotFound)
}

func TestDownloadDeletedFile(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()
	res := upload(t, h, "alice", "a.txt", "soon gone")

	require.NoError(t, h.files.DeleteFile(ctx, res.File.ID(), "alice"))
	_, err := h.files.Download(ctx, res.File.ID(), "alice")
	requireKind(t, err, apperrors.KindInvalidState)

	// 删除幂等
	require.NoError(t, h.files.DeleteFile(ctx, res.File.ID(), "alice"))
	assert.Len(t, h.events.byKind("deleted"), 1)
}

func TestDownloadFromOfflineNode(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()
	res := upload(t, h, "alice", "a.txt", "bytes")

	for _, status := range []NodeStatus{NodeOffline, NodeMaintenance} {
		require.NoError(t, h.nodeRepo.UpdateStatus(ctx, "minio-1", status))
		_, err := h.files.Download(ctx, res.File.ID(), "alice")
		requireKind(t, err, apperrors.KindBackendFailure)
	}
}

func TestDownloadFromFullNode(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()
	res := upload(t, h, "alice", "a.txt", "bytes")

	// FULL 只拒绝写入，已存文件仍可读取
	require.NoError(t, h.nodeRepo.UpdateStatus(ctx, "minio-1", NodeFull))
	dl, err := h.files.Download(ctx, res.File.ID(), "alice")
	require.NoError(t, err)
	defer dl.Content.Close()
	got, err := io.ReadAll(dl.Content)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(got))

	url, err := h.files.PresignURL(ctx, res.File.ID(), "alice", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, url.URL)

	_, err = h.files.Upload(ctx, &UploadRequest{OwnerID: "alice", FileName: "b.txt", Content: strings.NewReader("more")})
	requireKind(t, err, apperrors.KindNoAvailableNodes)
}

func TestDownloadWithLostKey(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()
	res := upload(t, h, "alice", "a.txt", "bytes")

	require.NoError(t, h.keys.DeleteKey(ctx, res.File.Reference().KeyRef()))
	_, err := h.files.Download(ctx, res.File.ID(), "alice")
	requireKind(t, err, apperrors.KindEncryptionFailure)
}

func TestPresignURL(t *testing.T) {
	h := newHarness(t,
		testNode("minio-1", BackendObjectStoreA, 0, 1<<30),
		testNode("sftp-1", BackendTransferServer, 0, 1<<30),
	)
	ctx := context.Background()

	obj := upload(t, h, "alice", "a.txt", "object store")
	tests := []struct {
		name   string
		expiry time.Duration
		want   time.Duration
	}{
		{"default", 0, 15 * time.Minute},
		{"custom", time.Hour, time.Hour},
		{"capped", 30 * 24 * time.Hour, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := h.files.PresignURL(ctx, obj.File.ID(), "alice", tt.expiry)
			require.NoError(t, err)
			assert.Equal(t, h.clock.Now().Add(tt.want), url.ExpiresAt)
			assert.Contains(t, url.URL, "minio-1.storage.local")
		})
	}

	sftp, err := h.files.Upload(ctx, &UploadRequest{
		OwnerID: "alice", FileName: "b.txt", PreferredBackend: BackendTransferServer,
		Content: strings.NewReader("transfer server"),
	})
	require.NoError(t, err)
	require.Equal(t, "sftp-1", sftp.NodeID)

	_, err = h.files.PresignURL(ctx, sftp.File.ID(), "alice", 0)
	requireKind(t, err, apperrors.KindInvalidState)
	assert.True(t, apperrors.Is(err, apperrors.ErrPresignUnsupported))
}

func TestGetAndListFilesUseCache(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()
	a := upload(t, h, "alice", "a.txt", "one")
	upload(t, h, "alice", "b.txt", "two")

	f, err := h.files.GetFile(ctx, a.File.ID(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", f.Metadata().Name)
	assert.True(t, h.cache.has(fileCacheKey(a.File.ID())))

	cached, err := h.files.GetFile(ctx, a.File.ID(), "alice")
	require.NoError(t, err)
	assert.Equal(t, f.Reference(), cached.Reference())
	assert.Equal(t, f.Checksum(), cached.Checksum())

	_, err = h.files.GetFile(ctx, a.File.ID(), "bob")
	requireKind(t, err, apperrors.KindUnauthorized)

	items, total, err := h.files.ListFiles(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int64(2), total)
	assert.True(t, h.cache.has(ownerListKey("alice", 1, 10)))

	upload(t, h, "alice", "c.txt", "three")
	assert.False(t, h.cache.has(ownerListKey("alice", 1, 10)))

	require.NoError(t, h.files.DeleteFile(ctx, a.File.ID(), "alice"))
	assert.False(t, h.cache.has(fileCacheKey(a.File.ID())))
	_, total, err = h.files.ListFiles(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestCacheFailureFallsThrough(t *testing.T) {
	h := newHarness(t, testNode("minio-1", BackendObjectStoreA, 0, 1<<30))
	ctx := context.Background()
	a := upload(t, h, "alice", "a.txt", "one")

	h.cache.broken = true
	f, err := h.files.GetFile(ctx, a.File.ID(), "alice")
	require.NoError(t, err)
	assert.Equal(t, a.File.ID(), f.ID())

	_, err = h.files.Upload(ctx, &UploadRequest{OwnerID: "alice", FileName: "b.txt", Content: bytes.NewReader([]byte("two"))})
	require.NoError(t, err)
}
