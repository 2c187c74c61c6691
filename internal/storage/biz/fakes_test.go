package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/stretchr/testify/require"
)

type memFileRepo struct {
	mu    sync.Mutex
	files map[string]*FileAggregate
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{files: make(map[string]*FileAggregate)}
}

func (r *memFileRepo) Save(_ context.Context, f *FileAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.files {
		if existing.Metadata().OwnerID == f.Metadata().OwnerID && existing.Checksum() == f.Checksum() {
			return ErrDuplicateChecksum
		}
	}
	r.files[f.ID()] = f
	return nil
}

func (r *memFileRepo) FindByID(_ context.Context, id string) (*FileAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok {
		return f, nil
	}
	return nil, errFileNotFound(id)
}

func (r *memFileRepo) FindByChecksum(_ context.Context, ownerID string, sum FileChecksum) (*FileAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.Metadata().OwnerID == ownerID && f.Checksum() == sum {
			return f, nil
		}
	}
	return nil, nil
}

func (r *memFileRepo) FindByIDAndOwner(_ context.Context, id, ownerID string) (*FileAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok && f.IsOwnedBy(ownerID) {
		return f, nil
	}
	return nil, errFileNotFound(id)
}

func (r *memFileRepo) ListByOwner(_ context.Context, ownerID string, page, pageSize int) ([]*FileAggregate, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*FileAggregate
	for _, f := range r.files {
		if f.IsOwnedBy(ownerID) && f.Metadata().Status != FileDeleted {
			all = append(all, f)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, int64(len(all)), nil
	}
	end := min(start+pageSize, len(all))
	return all[start:end], int64(len(all)), nil
}

func (r *memFileRepo) SoftDelete(_ context.Context, id string) error {
	return r.setStatus(id, FileDeleted)
}

func (r *memFileRepo) setStatus(id string, status FileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return errFileNotFound(id)
	}
	meta := f.Metadata()
	meta.Status = status
	updated, err := NewFileAggregate(f.ID(), meta, f.Reference(), f.Checksum())
	if err != nil {
		return err
	}
	r.files[id] = updated
	return nil
}

func (r *memFileRepo) Restore(_ context.Context, f *FileAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[f.ID()] = f
	return nil
}

func (r *memFileRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[id]
	return ok, nil
}

type memNodeRepo struct {
	mu    sync.Mutex
	nodes map[string]*StorageNode
}

func newMemNodeRepo(nodes ...*StorageNode) *memNodeRepo {
	r := &memNodeRepo{nodes: make(map[string]*StorageNode)}
	for _, n := range nodes {
		cp := *n
		r.nodes[n.NodeID] = &cp
	}
	return r
}

func (r *memNodeRepo) sorted(keep func(*StorageNode) bool) []*StorageNode {
	var out []*StorageNode
	for _, n := range r.nodes {
		if keep(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (r *memNodeRepo) List(_ context.Context) ([]*StorageNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(*StorageNode) bool { return true }), nil
}

func (r *memNodeRepo) ListByTypeAndStatus(_ context.Context, backend BackendType, status NodeStatus) ([]*StorageNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(n *StorageNode) bool { return n.BackendType == backend && n.Status == status }), nil
}

func (r *memNodeRepo) FindByID(_ context.Context, nodeID string) (*StorageNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNodeNotFound, nodeID)
	}
	cp := *n
	return &cp, nil
}

func (r *memNodeRepo) Save(_ context.Context, node *StorageNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *node
	if existing, ok := r.nodes[node.NodeID]; ok {
		cp.UsedCapacity = existing.UsedCapacity
		cp.FileCount = existing.FileCount
		cp.CreatedAt = existing.CreatedAt
	}
	r.nodes[node.NodeID] = &cp
	return nil
}

func (r *memNodeRepo) UpdateStatus(_ context.Context, nodeID string, status NodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return apperrors.New(apperrors.ErrNodeNotFound, nodeID)
	}
	n.Status = status
	return nil
}

func (r *memNodeRepo) RecordStore(_ context.Context, nodeID string, bytes int64) (*StorageNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNodeNotFound, nodeID)
	}
	n.UsedCapacity += bytes
	n.FileCount++
	if n.Status == NodeActive && n.UsedPercent() >= MaxUsedPercent {
		n.Status = NodeFull
	}
	cp := *n
	return &cp, nil
}

func (r *memNodeRepo) RecordHealthCheck(_ context.Context, nodeID string, status NodeStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return apperrors.New(apperrors.ErrNodeNotFound, nodeID)
	}
	n.Status = status
	n.LastHealthCheck = &at
	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
	chunks   map[string]map[int]*FileChunk
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*UploadSession),
		chunks:   make(map[string]map[int]*FileChunk),
	}
}

func (r *memSessionRepo) Create(_ context.Context, s *UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) FindByID(_ context.Context, id string) (*UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrSessionNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) SaveChunk(_ context.Context, chunk *FileChunk) (*UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chunk.SessionID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrSessionNotFound, chunk.SessionID)
	}
	if !s.IsOpen() {
		return nil, apperrors.New(apperrors.ErrSessionClosed, s.ID)
	}
	if r.chunks[s.ID] == nil {
		r.chunks[s.ID] = make(map[int]*FileChunk)
	}
	cp := *chunk
	r.chunks[s.ID][chunk.ChunkNumber] = &cp
	s.UploadedChunks = len(r.chunks[s.ID])
	s.Status = SessionInProgress
	out := *s
	return &out, nil
}

func (r *memSessionRepo) ListChunks(_ context.Context, sessionID string) ([]*FileChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*FileChunk
	for _, c := range r.chunks[sessionID] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out, nil
}

func (r *memSessionRepo) DeleteChunks(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, sessionID)
	return nil
}

func (r *memSessionRepo) UpdateStatus(_ context.Context, id string, status SessionStatus, fileID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.New(apperrors.ErrSessionNotFound, id)
	}
	s.Status = status
	s.FileID = fileID
	s.UpdatedAt = at
	if status == SessionCompleted {
		s.CompletedAt = &at
	}
	return nil
}

func (r *memSessionRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]*UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*UploadSession
	for _, s := range r.sessions {
		if s.IsOpen() && s.IsExpiredAt(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memBackend 以 nodeID/物理路径 为键保存对象
type memBackend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPing map[string]bool
	failNext error
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte), failPing: make(map[string]bool)}
}

func objectKey(node *StorageNode, p string) string {
	return node.NodeID + "|" + p
}

func (b *memBackend) Store(_ context.Context, node *StorageNode, req *StoreRequest) (*StorageResult, error) {
	b.mu.Lock()
	if err := b.failNext; err != nil {
		b.failNext = nil
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Unlock()

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	p := "/" + path.Join(req.BasePath, req.FileName)
	if node.BackendType.IsObjectStore() {
		p = path.Join(req.Bucket, req.BasePath, req.FileName)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectKey(node, p)] = data
	return &StorageResult{PhysicalPath: p, Bucket: req.Bucket, BytesWritten: int64(len(data)), Region: node.Region}, nil
}

func (b *memBackend) Retrieve(_ context.Context, node *StorageNode, p string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[objectKey(node, p)]
	if !ok {
		return nil, apperrors.New(apperrors.ErrObjectNotFound, node.NodeID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBackend) Delete(_ context.Context, node *StorageNode, p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectKey(node, p))
	return nil
}

func (b *memBackend) Exists(_ context.Context, node *StorageNode, p string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[objectKey(node, p)]
	return ok, nil
}

func (b *memBackend) PresignURL(_ context.Context, node *StorageNode, p string, expiry time.Duration) (string, error) {
	if !node.BackendType.IsObjectStore() {
		return "", apperrors.New(apperrors.ErrPresignUnsupported, string(node.BackendType))
	}
	return fmt.Sprintf("https://%s/%s?expires=%d", node.Endpoint, p, int(expiry.Seconds())), nil
}

func (b *memBackend) Ping(_ context.Context, node *StorageNode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPing[node.NodeID] {
		return apperrors.New(apperrors.ErrBackendFailure, node.NodeID)
	}
	return nil
}

func (b *memBackend) count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.objects {
		if strings.Contains(k, prefix) {
			n++
		}
	}
	return n
}

type recordedEvent struct {
	Kind     string
	FileID   string
	OwnerID  string
	Location ScanLocation
}

type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *recordingEvents) add(ev recordedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEvents) PublishUploaded(_ context.Context, fileID, ownerID string) {
	e.add(recordedEvent{Kind: "uploaded", FileID: fileID, OwnerID: ownerID})
}

func (e *recordingEvents) PublishDeleted(_ context.Context, fileID, ownerID string) {
	e.add(recordedEvent{Kind: "deleted", FileID: fileID, OwnerID: ownerID})
}

func (e *recordingEvents) PublishVirusScanRequest(_ context.Context, fileID string, loc ScanLocation) {
	e.add(recordedEvent{Kind: "virus_scan", FileID: fileID, Location: loc})
}

func (e *recordingEvents) byKind(kind string) []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []recordedEvent
	for _, ev := range e.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	broken  bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

var errCacheDown = errors.New("cache unavailable")

func (c *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errCacheDown
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = data
	return nil
}

func (c *memCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return false, errCacheDown
	}
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memCache) DeleteByPattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// harness 组装完整的用例依赖
type harness struct {
	files    *FileUseCase
	chunked  *ChunkedUploadUseCase
	registry *NodeRegistry
	selector *NodeSelector
	enc      *EncryptionService
	keys     *MemoryKeyStore
	fileRepo *memFileRepo
	nodeRepo *memNodeRepo
	sessions *memSessionRepo
	backend  *memBackend
	events   *recordingEvents
	cache    *memCache
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHarness(t *testing.T, nodes ...*StorageNode) *harness {
	t.Helper()

	keys := NewMemoryKeyStore(0)
	credKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	enc, err := NewEncryptionService(keys, credKey)
	require.NoError(t, err)

	h := &harness{
		enc:      enc,
		keys:     keys,
		fileRepo: newMemFileRepo(),
		nodeRepo: newMemNodeRepo(nodes...),
		sessions: newMemSessionRepo(),
		backend:  newMemBackend(),
		events:   &recordingEvents{},
		cache:    newMemCache(),
		clock:    &fakeClock{now: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)},
	}
	log := logger.NewNop()
	h.registry = NewNodeRegistry(h.nodeRepo, enc, log)
	h.registry.now = h.clock.Now
	h.selector = NewNodeSelector(h.registry, LeastUsedStrategy{}, true)
	h.files = NewFileUseCase(h.fileRepo, h.registry, h.selector, h.backend, enc, h.events, h.cache,
		FileConfig{SpoolThreshold: 64}, log)
	h.files.now = h.clock.Now
	h.chunked = NewChunkedUploadUseCase(h.sessions, h.files, h.registry, h.selector, h.backend, enc, h.cache,
		ChunkedConfig{SessionTTL: time.Hour, SpoolThreshold: 64}, log)
	h.chunked.now = h.clock.Now
	return h
}

func testNode(id string, backend BackendType, used, total int64) *StorageNode {
	return &StorageNode{
		NodeID:        id,
		BackendType:   backend,
		Endpoint:      id + ".storage.local:9000",
		TotalCapacity: total,
		UsedCapacity:  used,
		Status:        NodeActive,
	}
}

func (h *harness) node(t *testing.T, id string) *StorageNode {
	t.Helper()
	n, err := h.nodeRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return n
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperrors.KindOf(err), "unexpected error: %v", err)
}
