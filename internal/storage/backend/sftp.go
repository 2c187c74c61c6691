package backend

import (
	"context"
	"io"
	"path"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/sftp"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"go.uber.org/zap"
)

// SFTPDialer opens a transfer server session
type SFTPDialer func(ctx context.Context, cfg *sftp.Config, logger *zap.Logger) (*sftp.Client, error)

// SFTPBackend serves TRANSFER_SERVER nodes
type SFTPBackend struct {
	creds   CredentialResolver
	opts    Options
	logger  *zap.Logger
	dial    SFTPDialer
	clients *clientCache[*sftp.Client]
}

// NewSFTPBackend creates the SFTP adapter. A nil dialer uses sftp.Dial.
func NewSFTPBackend(creds CredentialResolver, opts Options, dial SFTPDialer, logger *zap.Logger) *SFTPBackend {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if dial == nil {
		dial = sftp.Dial
	}
	return &SFTPBackend{
		creds:   creds,
		opts:    opts,
		logger:  logger.Named("sftp-backend"),
		dial:    dial,
		clients: newClientCache[*sftp.Client](),
	}
}

// config builds the connection config. The user comes from the endpoint URL
// when present, otherwise from the access key credential.
func (b *SFTPBackend) config(node *biz.StorageNode) (*sftp.Config, error) {
	user, addr, baseDir, err := sftp.ParseNodeURL(node.Endpoint)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidParams, "invalid transfer server endpoint")
	}
	accessKey, secret, err := credentials(b.creds, node)
	if err != nil {
		return nil, err
	}
	if user == "" {
		user = accessKey
	}
	return &sftp.Config{
		Addr:                  addr,
		User:                  user,
		Secret:                secret,
		KnownHostsFile:        b.opts.SFTPKnownHostsFile,
		InsecureIgnoreHostKey: b.opts.SFTPInsecureHostKey,
		BaseDir:               baseDir,
		DialTimeout:           b.opts.SFTPDialTimeout,
		MaxAttempts:           b.opts.SFTPDialRetries,
	}, nil
}

func (b *SFTPBackend) client(ctx context.Context, node *biz.StorageNode) (*sftp.Client, error) {
	return b.clients.get(node, func() (*sftp.Client, error) {
		cfg, err := b.config(node)
		if err != nil {
			return nil, err
		}
		return b.dial(ctx, cfg, b.logger)
	})
}

// done records the call and drops the cached session on connection loss
func (b *SFTPBackend) done(node *biz.StorageNode, op string, start time.Time, err error) error {
	if sftp.IsConnectionLost(err) {
		b.logger.Warn("transfer server connection lost, dropping session",
			zap.String("node_id", node.NodeID), zap.String("op", op))
		b.clients.evict(node.NodeID)
	}
	return observe(biz.BackendTransferServer, node, op, start, err, sftp.IsNotFound)
}

// Store writes the file under the base directory and returns its absolute path
func (b *SFTPBackend) Store(ctx context.Context, node *biz.StorageNode, req *biz.StoreRequest) (res *biz.StorageResult, err error) {
	start := time.Now()
	defer func() { err = b.done(node, "store", start, err) }()

	ctx, cancel := withTimeout(ctx, b.opts.OperationTimeout)
	defer cancel()

	c, err := b.client(ctx, node)
	if err != nil {
		return nil, err
	}
	rel := path.Join(req.BasePath, req.FileName)
	full, err := c.Resolve(rel)
	if err != nil {
		return nil, err
	}
	n, err := c.PutFile(ctx, rel, req.Body)
	if err != nil {
		return nil, err
	}
	return &biz.StorageResult{PhysicalPath: full, BytesWritten: n}, nil
}

// Retrieve opens the file for reading
func (b *SFTPBackend) Retrieve(ctx context.Context, node *biz.StorageNode, physicalPath string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { err = b.done(node, "retrieve", start, err) }()

	c, err := b.client(ctx, node)
	if err != nil {
		return nil, err
	}
	return c.Open(physicalPath)
}

// Delete removes the file
func (b *SFTPBackend) Delete(ctx context.Context, node *biz.StorageNode, physicalPath string) (err error) {
	start := time.Now()
	defer func() { err = b.done(node, "delete", start, err) }()

	c, err := b.client(ctx, node)
	if err != nil {
		return err
	}
	return c.Remove(physicalPath)
}

// Exists reports whether the file is present
func (b *SFTPBackend) Exists(ctx context.Context, node *biz.StorageNode, physicalPath string) (ok bool, err error) {
	start := time.Now()
	defer func() { err = b.done(node, "exists", start, err) }()

	c, err := b.client(ctx, node)
	if err != nil {
		return false, err
	}
	return c.Exists(physicalPath)
}

// PresignURL is not available on transfer servers
func (b *SFTPBackend) PresignURL(_ context.Context, _ *biz.StorageNode, _ string, _ time.Duration) (string, error) {
	return "", apperrors.New(apperrors.ErrPresignUnsupported, string(biz.BackendTransferServer))
}

// Ping stats the base directory
func (b *SFTPBackend) Ping(ctx context.Context, node *biz.StorageNode) (err error) {
	start := time.Now()
	defer func() { err = b.done(node, "ping", start, err) }()

	c, err := b.client(ctx, node)
	if err != nil {
		return err
	}
	return c.Ping()
}

// Close ends all cached sessions
func (b *SFTPBackend) Close() error {
	b.clients.closeAll()
	return nil
}
