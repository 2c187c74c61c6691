package data

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
)

// EncryptionKeyPO 会话密钥表，密钥本身以 KEK 封装后存储
type EncryptionKeyPO struct {
	KeyRef    string    `gorm:"type:varchar(36);primaryKey"`
	SealedKey string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (EncryptionKeyPO) TableName() string {
	return "encryption_keys"
}

// KeyRepo 持久化密钥托管，实现 biz.KeyStore
type KeyRepo struct {
	db  *database.DB
	kek []byte
}

var _ biz.KeyStore = (*KeyRepo)(nil)

// NewKeyRepo kek 为 32 字节的密钥封装密钥
func NewKeyRepo(db *database.DB, kek []byte) (*KeyRepo, error) {
	if len(kek) != crypto.KeySize {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "key wrapping key must be 32 bytes")
	}
	k := make([]byte, len(kek))
	copy(k, kek)
	return &KeyRepo{db: db, kek: k}, nil
}

// GenerateKey 生成并封装新密钥，返回引用
func (r *KeyRepo) GenerateKey(ctx context.Context) (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrEncryptionFailure, "generate key")
	}
	sealed, err := crypto.EncryptString(string(key), r.kek)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrEncryptionFailure, "seal key")
	}

	po := &EncryptionKeyPO{
		KeyRef:    uuid.NewString(),
		SealedKey: sealed,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(po).Error; err != nil {
		return "", err
	}
	return po.KeyRef, nil
}

// GetKey 返回解封后的密钥
func (r *KeyRepo) GetKey(ctx context.Context, keyRef string) ([]byte, error) {
	var po EncryptionKeyPO
	if err := r.db.WithContext(ctx).Where("key_ref = ?", keyRef).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, apperrors.New(apperrors.ErrKeyNotFound, "key "+keyRef)
		}
		return nil, err
	}
	key, err := crypto.DecryptString(po.SealedKey, r.kek)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrEncryptionFailure, "unseal key "+keyRef)
	}
	return []byte(key), nil
}

// DeleteKey 删除密钥，未知引用忽略
func (r *KeyRepo) DeleteKey(ctx context.Context, keyRef string) error {
	return r.db.WithContext(ctx).Where("key_ref = ?", keyRef).Delete(&EncryptionKeyPO{}).Error
}
