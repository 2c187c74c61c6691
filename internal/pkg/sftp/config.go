package sftp

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultPort is the SSH port used when the endpoint names none
const DefaultPort = 22

// Config describes one transfer server connection
type Config struct {
	// Addr is host:port
	Addr string
	User string

	// Secret is either a password or a PEM-encoded private key
	Secret string

	// HostKey pins the server key in authorized_keys format (optional)
	HostKey string
	// KnownHostsFile is consulted when HostKey is empty (optional)
	KnownHostsFile string
	// InsecureIgnoreHostKey accepts any server key when neither of the above is set
	InsecureIgnoreHostKey bool

	// BaseDir prefixes every relative path
	BaseDir string

	DialTimeout time.Duration
	MaxAttempts uint
}

// SetDefaults sets default values for unspecified configuration fields
func (c *Config) SetDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDir == "" {
		c.BaseDir = "/"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("sftp: address is required")
	}
	if c.User == "" {
		return errors.New("sftp: user is required")
	}
	if c.HostKey == "" && c.KnownHostsFile == "" && !c.InsecureIgnoreHostKey {
		return errors.New("sftp: host key verification is not configured")
	}
	return nil
}

// ParseNodeURL splits sftp://user@host[:port][/base] into its parts
func ParseNodeURL(endpoint string) (user, addr, baseDir string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", "", fmt.Errorf("sftp: parse endpoint: %w", err)
	}
	if u.Scheme != "sftp" || u.Hostname() == "" {
		return "", "", "", fmt.Errorf("sftp: endpoint must be sftp://user@host[:port]")
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", "", "", fmt.Errorf("sftp: invalid port %q", p)
		}
	}

	baseDir = "/"
	if u.Path != "" {
		baseDir = path.Clean("/" + u.Path)
	}
	return u.User.Username(), net.JoinHostPort(u.Hostname(), strconv.Itoa(port)), baseDir, nil
}
