package biz

import (
	"context"

	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
)

// EncryptionService 加密存储路径与后端凭据。
// 路径使用密钥托管中的独立密钥；凭据使用由主密钥派生的凭据密钥。
type EncryptionService struct {
	keys          KeyStore
	credentialKey []byte
}

// NewEncryptionService 创建加密服务
func NewEncryptionService(keys KeyStore, credentialKey []byte) (*EncryptionService, error) {
	if len(credentialKey) != crypto.KeySize {
		return nil, apperrors.New(apperrors.ErrEncryptionFailure, "credential key must be 32 bytes")
	}
	return &EncryptionService{keys: keys, credentialKey: credentialKey}, nil
}

// NewKey 生成新密钥并返回其引用
func (s *EncryptionService) NewKey(ctx context.Context) (string, error) {
	ref, err := s.keys.GenerateKey(ctx)
	if err != nil {
		return "", errEncryption("generate key", err)
	}
	return ref, nil
}

// DropKey 删除不再使用的密钥
func (s *EncryptionService) DropKey(ctx context.Context, keyRef string) error {
	return s.keys.DeleteKey(ctx, keyRef)
}

// EncryptPath 以新生成的密钥加密路径，返回密文与密钥引用
func (s *EncryptionService) EncryptPath(ctx context.Context, path string) (string, string, error) {
	ref, err := s.NewKey(ctx)
	if err != nil {
		return "", "", err
	}
	enc, err := s.EncryptWithKey(ctx, path, ref)
	if err != nil {
		_ = s.keys.DeleteKey(ctx, ref)
		return "", "", err
	}
	return enc, ref, nil
}

// EncryptWithKey 用已有密钥加密
func (s *EncryptionService) EncryptWithKey(ctx context.Context, plaintext, keyRef string) (string, error) {
	key, err := s.keys.GetKey(ctx, keyRef)
	if err != nil {
		return "", errEncryption("load key", err)
	}
	enc, err := crypto.EncryptString(plaintext, key)
	if err != nil {
		return "", errEncryption("encrypt", err)
	}
	return enc, nil
}

// DecryptPath 解密存储位置；篡改或密钥不符时失败
func (s *EncryptionService) DecryptPath(ctx context.Context, encrypted, keyRef string) (string, error) {
	key, err := s.keys.GetKey(ctx, keyRef)
	if err != nil {
		return "", errEncryption("load key", err)
	}
	plain, err := crypto.DecryptString(encrypted, key)
	if err != nil {
		return "", errEncryption("decrypt", err)
	}
	return plain, nil
}

// EncryptCredential 加密后端凭据；空值保持为空
func (s *EncryptionService) EncryptCredential(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	enc, err := crypto.EncryptString(plain, s.credentialKey)
	if err != nil {
		return "", errEncryption("encrypt credential", err)
	}
	return enc, nil
}

// DecryptCredential 解密后端凭据
func (s *EncryptionService) DecryptCredential(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	plain, err := crypto.DecryptString(blob, s.credentialKey)
	if err != nil {
		return "", errEncryption("decrypt credential", err)
	}
	return plain, nil
}
