package data

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRepoSaveAndFind(t *testing.T) {
	repo := NewFileRepo(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	f := testFile(t, "f1", "alice", testChecksum(t, 'a'), now)
	require.NoError(t, repo.Save(ctx, f))

	got, err := repo.FindByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Metadata().OwnerID)
	assert.Equal(t, f.Reference().EncryptedPath(), got.Reference().EncryptedPath())
	assert.Equal(t, f.Checksum(), got.Checksum())

	_, err = repo.FindByIDAndOwner(ctx, "f1", "bob")
	assert.True(t, apperrors.Is(err, apperrors.ErrFileNotFound))

	_, err = repo.FindByID(ctx, "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	ok, err := repo.Exists(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileRepoChecksumIsUniquePerOwner(t *testing.T) {
	repo := NewFileRepo(openTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	sum := testChecksum(t, 'b')

	require.NoError(t, repo.Save(ctx, testFile(t, "f1", "alice", sum, now)))
	err := repo.Save(ctx, testFile(t, "f2", "alice", sum, now))
	assert.ErrorIs(t, err, biz.ErrDuplicateChecksum)

	// 不同所有者可持有相同内容
	require.NoError(t, repo.Save(ctx, testFile(t, "f3", "bob", sum, now)))

	hit, err := repo.FindByChecksum(ctx, "alice", sum)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "f1", hit.ID())

	miss, err := repo.FindByChecksum(ctx, "carol", sum)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestFileRepoListSoftDeleteRestore(t *testing.T) {
	repo := NewFileRepo(openTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, c := range []byte{'1', '2', '3'} {
		id := "f" + string(c)
		require.NoError(t, repo.Save(ctx, testFile(t, id, "alice", testChecksum(t, c), base.Add(time.Duration(i)*time.Minute))))
	}

	files, total, err := repo.ListByOwner(ctx, "alice", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, files, 2)
	assert.Equal(t, "f3", files[0].ID())
	assert.Equal(t, "f2", files[1].ID())

	require.NoError(t, repo.SoftDelete(ctx, "f3"))
	_, total, err = repo.ListByOwner(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	deleted, err := repo.FindByID(ctx, "f3")
	require.NoError(t, err)
	assert.Equal(t, biz.FileDeleted, deleted.Metadata().Status)

	restored := deleted.Restored("renamed.txt", "text/markdown", "folder-9", time.Now().UTC())
	require.NoError(t, repo.Restore(ctx, restored))

	got, err := repo.FindByID(ctx, "f3")
	require.NoError(t, err)
	assert.Equal(t, biz.FileActive, got.Metadata().Status)
	assert.Equal(t, "renamed.txt", got.Metadata().Name)
	assert.Equal(t, "folder-9", got.Metadata().FolderID)
	assert.Equal(t, deleted.Reference().KeyRef(), got.Reference().KeyRef())

	assert.True(t, apperrors.Is(repo.SoftDelete(ctx, "nope"), apperrors.ErrFileNotFound))
}
