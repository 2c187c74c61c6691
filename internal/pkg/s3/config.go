package s3

import (
	"errors"
	"strings"
	"time"
)

// DefaultRegion is used when neither the node nor its endpoint names one
const DefaultRegion = "us-east-1"

// Config represents the configuration for an S3 client
type Config struct {
	// Endpoint overrides the AWS endpoint (optional), e.g. "https://s3.eu-west-1.amazonaws.com"
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
	Region          string

	// UsePathStyle addresses buckets as endpoint/bucket
	UsePathStyle bool

	// MaxAttempts for the SDK retryer
	// Default: 3
	MaxAttempts int

	// RequestTimeout bounds Ping
	// Default: 10 seconds
	RequestTimeout time.Duration
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("s3: static credentials are required")
	}
	if c.Endpoint != "" && !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return errors.New("s3: endpoint must include http:// or https://")
	}
	return nil
}

// SetDefaults sets default values for unspecified configuration fields
func (c *Config) SetDefaults() {
	if c.Region == "" {
		c.Region = RegionFromEndpoint(c.Endpoint)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// RegionFromEndpoint extracts the region from hosts like
// s3.eu-west-1.amazonaws.com or s3-eu-west-1.amazonaws.com.
func RegionFromEndpoint(endpoint string) string {
	host := endpoint
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host, _, _ = strings.Cut(host, "/")
	host, _, _ = strings.Cut(host, ":")

	if !strings.HasSuffix(host, ".amazonaws.com") {
		return DefaultRegion
	}
	labels := strings.Split(strings.TrimSuffix(host, ".amazonaws.com"), ".")
	for i, l := range labels {
		switch {
		case strings.HasPrefix(l, "s3-") && l != "s3-external-1":
			return strings.TrimPrefix(l, "s3-")
		case l == "s3" && i+1 < len(labels):
			return labels[i+1]
		}
	}
	return DefaultRegion
}
