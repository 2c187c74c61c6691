package minio

import (
	"errors"
	"time"
)

// Config describes one OBJECT_STORE_A node connection
type Config struct {
	// Endpoint is host[:port] without scheme
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool

	// PathStyle forces endpoint/bucket addressing; otherwise minio-go picks
	PathStyle bool

	// RequestTimeout bounds Ping. Default: 10 seconds
	RequestTimeout time.Duration
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("minio: endpoint is required")
	case c.AccessKeyID == "":
		return errors.New("minio: access key ID is required")
	case c.SecretAccessKey == "":
		return errors.New("minio: secret access key is required")
	case c.RequestTimeout < 0:
		return errors.New("minio: request timeout must not be negative")
	}
	return nil
}

// SetDefaults sets default values for unspecified configuration fields
func (c *Config) SetDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}
