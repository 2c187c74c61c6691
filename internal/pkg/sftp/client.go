package sftp

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Client is an SFTP session over a dedicated SSH connection
type Client struct {
	sftp   *sftp.Client
	conn   io.Closer
	config *Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Dial opens the SSH connection and SFTP subsystem, retrying transient
// network failures. Authentication failures are not retried.
func Dial(ctx context.Context, cfg *Config, logger *zap.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sshCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	var conn *ssh.Client
	err = retry.Do(
		func() error {
			c, err := dialContext(ctx, cfg.Addr, sshCfg)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying sftp dial", zap.String("addr", cfg.Addr), zap.Uint("attempt", n+1), zap.String("error", describe(err)))
		}),
	)
	if err != nil {
		return nil, wrap("Dial", err)
	}

	sc, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, wrap("NewClient", err)
	}

	logger.Debug("sftp session established", zap.String("addr", cfg.Addr), zap.String("user", cfg.User))
	return NewFromSession(sc, conn, cfg, logger), nil
}

// NewFromSession wraps an existing SFTP session; conn is closed with it
func NewFromSession(sc *sftp.Client, conn io.Closer, cfg *Config, logger *zap.Logger) *Client {
	cfg.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{sftp: sc, conn: conn, config: cfg, logger: logger}
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF)
}

func clientConfig(cfg *Config) (*ssh.ClientConfig, error) {
	auth, err := authMethod(cfg.Secret)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}, nil
}

func authMethod(secret string) (ssh.AuthMethod, error) {
	if block, _ := pem.Decode([]byte(secret)); block != nil {
		signer, err := ssh.ParsePrivateKey([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("sftp: parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(secret), nil
}

func hostKeyCallback(cfg *Config) (ssh.HostKeyCallback, error) {
	switch {
	case cfg.HostKey != "":
		pinned, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, fmt.Errorf("sftp: parse host key: %w", err)
		}
		return ssh.FixedHostKey(pinned), nil
	case cfg.KnownHostsFile != "":
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: load known hosts: %w", err)
		}
		return cb, nil
	}
	return ssh.InsecureIgnoreHostKey(), nil
}

// Resolve joins p onto BaseDir and rejects paths that escape it
func (c *Client) Resolve(p string) (string, error) {
	base := path.Clean("/" + c.config.BaseDir)
	full := path.Clean(path.Join(base, strings.TrimPrefix(p, base)))
	if full != base && !strings.HasPrefix(full, strings.TrimSuffix(base, "/")+"/") {
		return "", &Error{Op: "Resolve", Err: errors.New("path escapes base directory")}
	}
	return full, nil
}

// PutFile writes body to p, creating parent directories. A failed write
// removes the partial file.
func (c *Client) PutFile(ctx context.Context, p string, body io.Reader) (int64, error) {
	sc, err := c.session()
	if err != nil {
		return 0, err
	}
	full, err := c.Resolve(p)
	if err != nil {
		return 0, err
	}

	if err := sc.MkdirAll(path.Dir(full)); err != nil {
		return 0, wrap("MkdirAll", err)
	}
	f, err := sc.Create(full)
	if err != nil {
		return 0, wrap("Create", err)
	}

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: body})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rmErr := sc.Remove(full); rmErr != nil && !IsNotFound(rmErr) {
			c.logger.Warn("failed to remove partial upload", zap.String("error", describe(rmErr)))
		}
		return 0, wrap("Write", err)
	}
	return n, nil
}

// Open opens p for reading
func (c *Client) Open(p string) (io.ReadCloser, error) {
	sc, err := c.session()
	if err != nil {
		return nil, err
	}
	full, err := c.Resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := sc.Open(full)
	if err != nil {
		return nil, wrap("Open", err)
	}
	return f, nil
}

// Remove deletes p
func (c *Client) Remove(p string) error {
	sc, err := c.session()
	if err != nil {
		return err
	}
	full, err := c.Resolve(p)
	if err != nil {
		return err
	}
	return wrap("Remove", sc.Remove(full))
}

// Exists reports whether p exists
func (c *Client) Exists(p string) (bool, error) {
	sc, err := c.session()
	if err != nil {
		return false, err
	}
	full, err := c.Resolve(p)
	if err != nil {
		return false, err
	}
	if _, err := sc.Stat(full); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, wrap("Stat", err)
	}
	return true, nil
}

// Ping stats the base directory
func (c *Client) Ping() error {
	sc, err := c.session()
	if err != nil {
		return err
	}
	_, err = sc.Stat(path.Clean("/" + c.config.BaseDir))
	return wrap("Ping", err)
}

// Close ends the SFTP session and the SSH connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.sftp.Close()
	if c.conn != nil {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) session() (*sftp.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	return c.sftp, nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
