package biz

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
)

// DefaultMemoryKeyCapacity 内存密钥库默认容量
const DefaultMemoryKeyCapacity = 10000

// MemoryKeyStore 进程内有界密钥库，满时淘汰最早生成的密钥。
// 进程重启后密钥丢失，仅用于测试与单机演示。
type MemoryKeyStore struct {
	mu       sync.Mutex
	capacity int
	keys     map[string]*list.Element
	order    *list.List
}

type memoryKey struct {
	ref string
	key []byte
}

// NewMemoryKeyStore 创建内存密钥库
func NewMemoryKeyStore(capacity int) *MemoryKeyStore {
	if capacity <= 0 {
		capacity = DefaultMemoryKeyCapacity
	}
	return &MemoryKeyStore{
		capacity: capacity,
		keys:     make(map[string]*list.Element),
		order:    list.New(),
	}
}

// GenerateKey 生成密钥
func (s *MemoryKeyStore) GenerateKey(_ context.Context) (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	ref := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.order.Len() >= s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.keys, oldest.Value.(*memoryKey).ref)
	}
	s.keys[ref] = s.order.PushBack(&memoryKey{ref: ref, key: key})
	return ref, nil
}

// GetKey 返回密钥副本
func (s *MemoryKeyStore) GetKey(_ context.Context, keyRef string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.keys[keyRef]
	if !ok {
		return nil, apperrors.New(apperrors.ErrKeyNotFound, fmt.Sprintf("key %s", keyRef))
	}
	k := el.Value.(*memoryKey).key
	out := make([]byte, len(k))
	copy(out, k)
	return out, nil
}

// DeleteKey 删除密钥，未知引用忽略
func (s *MemoryKeyStore) DeleteKey(_ context.Context, keyRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.keys[keyRef]; ok {
		s.order.Remove(el)
		delete(s.keys, keyRef)
	}
	return nil
}

// Len 当前密钥数
func (s *MemoryKeyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
