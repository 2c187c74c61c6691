package data

import (
	"context"
	"testing"

	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRepoLifecycle(t *testing.T) {
	db := openTestDB(t)
	kek, err := crypto.GenerateKey()
	require.NoError(t, err)
	repo, err := NewKeyRepo(db, kek)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := repo.GenerateKey(ctx)
	require.NoError(t, err)

	key, err := repo.GetKey(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, key, crypto.KeySize)

	var po EncryptionKeyPO
	require.NoError(t, db.GetDB().Where("key_ref = ?", ref).First(&po).Error)
	assert.NotContains(t, po.SealedKey, string(key))

	// 换用其他 KEK 无法解封
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	wrong, err := NewKeyRepo(db, other)
	require.NoError(t, err)
	_, err = wrong.GetKey(ctx, ref)
	assert.True(t, apperrors.Is(err, apperrors.ErrEncryptionFailure))

	require.NoError(t, repo.DeleteKey(ctx, ref))
	_, err = repo.GetKey(ctx, ref)
	assert.True(t, apperrors.Is(err, apperrors.ErrKeyNotFound))
	require.NoError(t, repo.DeleteKey(ctx, ref))
}

func TestNewKeyRepoRejectsShortKEK(t *testing.T) {
	_, err := NewKeyRepo(nil, []byte("short"))
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidationFailure))
}
