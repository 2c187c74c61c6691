package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/pkg/redis"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
)

// EnvPrefix 环境变量前缀，例如 GATEWAY_DATABASE_HOST
const EnvPrefix = "GATEWAY"

// 密钥托管方式
const (
	KeyStoreDatabase = "database"
	KeyStoreMemory   = "memory"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   database.Config  `mapstructure:"database"`
	Redis      redis.Config     `mapstructure:"redis"`
	Log        logger.Config    `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Security   SecurityConfig   `mapstructure:"security"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Chunked    ChunkedConfig    `mapstructure:"chunked"`
	SFTP       SFTPConfig       `mapstructure:"sftp"`
	WorkerPool WorkerPoolConfig `mapstructure:"workerpool"`
	Nodes      []NodeConfig     `mapstructure:"nodes"`
}

type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	GRPCPort int    `mapstructure:"grpc_port"`
	Mode     string `mapstructure:"mode"` // debug, release, test
}

// Addr HTTP 监听地址
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr gRPC 监听地址
func (c *ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SecurityConfig 主密钥用于派生密钥加密密钥与凭证密钥
type SecurityConfig struct {
	MasterSecret      string `mapstructure:"master_secret"`
	KeyStore          string `mapstructure:"key_store"`
	MemoryKeyCapacity int    `mapstructure:"memory_key_capacity"`
}

type StorageConfig struct {
	ChecksumAlgorithm    string        `mapstructure:"checksum_algorithm"`
	SelectionStrategy    string        `mapstructure:"selection_strategy"`
	FallbackToAnyBackend bool          `mapstructure:"fallback_to_any_backend"`
	SpoolThreshold       int64         `mapstructure:"spool_threshold"`
	SpoolDir             string        `mapstructure:"spool_dir"`
	MaxUploadSize        int64         `mapstructure:"max_upload_size"`
	PresignExpiry        time.Duration `mapstructure:"presign_expiry"`
	MaxPresignExpiry     time.Duration `mapstructure:"max_presign_expiry"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	OperationTimeout     time.Duration `mapstructure:"operation_timeout"`
}

type ChunkedConfig struct {
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	MaxChunks      int           `mapstructure:"max_chunks"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatch     int           `mapstructure:"sweep_batch"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

type SFTPConfig struct {
	KnownHosts      string        `mapstructure:"known_hosts"`
	InsecureHostKey bool          `mapstructure:"insecure_host_key"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	DialRetries     uint          `mapstructure:"dial_retries"`
}

type WorkerPoolConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// NodeConfig 启动时自动注册的存储节点
type NodeConfig struct {
	NodeID        string `mapstructure:"node_id"`
	BackendType   string `mapstructure:"backend_type"`
	Endpoint      string `mapstructure:"endpoint"`
	PublicURL     string `mapstructure:"public_url"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	TotalCapacity int64  `mapstructure:"total_capacity"`
	Status        string `mapstructure:"status"`
}

// Spec 转换为注册请求
func (n *NodeConfig) Spec() (biz.NodeSpec, error) {
	backendType, err := biz.ParseBackendType(n.BackendType)
	if err != nil {
		return biz.NodeSpec{}, err
	}
	status := biz.NodeActive
	if n.Status != "" {
		if status, err = biz.ParseNodeStatus(n.Status); err != nil {
			return biz.NodeSpec{}, err
		}
	}
	return biz.NodeSpec{
		NodeID:        n.NodeID,
		BackendType:   backendType,
		Endpoint:      n.Endpoint,
		PublicURL:     n.PublicURL,
		AccessKey:     n.AccessKey,
		SecretKey:     n.SecretKey,
		Bucket:        n.Bucket,
		Region:        n.Region,
		UseSSL:        n.UseSSL,
		TotalCapacity: n.TotalCapacity,
		Status:        status,
	}, nil
}

// LoadConfig 读取配置文件并叠加环境变量
// path 为空时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.mode", "release")

	db := database.DefaultConfig()
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", db.Port)
	v.SetDefault("database.user", db.User)
	v.SetDefault("database.password", db.Password)
	v.SetDefault("database.dbname", db.DBName)
	v.SetDefault("database.sslmode", db.SSLMode)
	v.SetDefault("database.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("database.max_open_conns", db.MaxOpenConns)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", db.ConnMaxIdleTime)
	v.SetDefault("database.log_level", db.LogLevel)
	v.SetDefault("database.slow_threshold", db.SlowThreshold)
	v.SetDefault("database.timezone", db.Timezone)
	v.SetDefault("database.auto_migrate", true)

	rdb := redis.DefaultConfig()
	v.SetDefault("redis.mode", string(rdb.Mode))
	v.SetDefault("redis.addr", rdb.Addr)
	v.SetDefault("redis.password", rdb.Password)
	v.SetDefault("redis.db", rdb.DB)
	v.SetDefault("redis.pool_size", rdb.PoolSize)
	v.SetDefault("redis.min_idle_conns", rdb.MinIdleConns)
	v.SetDefault("redis.dial_timeout", rdb.DialTimeout)
	v.SetDefault("redis.read_timeout", rdb.ReadTimeout)
	v.SetDefault("redis.write_timeout", rdb.WriteTimeout)
	v.SetDefault("redis.pool_timeout", rdb.PoolTimeout)
	v.SetDefault("redis.max_retries", rdb.MaxRetries)
	v.SetDefault("redis.conn_max_idle_time", rdb.ConnMaxIdleTime)

	lg := logger.DefaultConfig()
	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.format", lg.Format)
	v.SetDefault("log.output", lg.Output)
	v.SetDefault("log.enable_caller", lg.EnableCaller)
	v.SetDefault("log.enable_stacktrace", lg.EnableStacktrace)
	v.SetDefault("log.file.filename", lg.File.Filename)
	v.SetDefault("log.file.max_size", lg.File.MaxSize)
	v.SetDefault("log.file.max_age", lg.File.MaxAge)
	v.SetDefault("log.file.max_backups", lg.File.MaxBackups)
	v.SetDefault("log.file.compress", lg.File.Compress)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "storage-gateway")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("security.master_secret", "")
	v.SetDefault("security.key_store", KeyStoreDatabase)
	v.SetDefault("security.memory_key_capacity", 10000)

	v.SetDefault("storage.checksum_algorithm", string(biz.AlgorithmSHA256))
	v.SetDefault("storage.selection_strategy", biz.StrategyLeastUsed)
	v.SetDefault("storage.fallback_to_any_backend", true)
	v.SetDefault("storage.spool_threshold", 32<<20)
	v.SetDefault("storage.spool_dir", "")
	v.SetDefault("storage.max_upload_size", 5<<30)
	v.SetDefault("storage.presign_expiry", 15*time.Minute)
	v.SetDefault("storage.max_presign_expiry", 7*24*time.Hour)
	v.SetDefault("storage.cache_ttl", 5*time.Minute)
	v.SetDefault("storage.operation_timeout", 5*time.Minute)

	v.SetDefault("chunked.session_ttl", 24*time.Hour)
	v.SetDefault("chunked.max_chunks", 10000)
	v.SetDefault("chunked.sweep_interval", 15*time.Minute)
	v.SetDefault("chunked.sweep_batch", 100)
	v.SetDefault("chunked.health_interval", time.Minute)
	v.SetDefault("chunked.job_timeout", 5*time.Minute)

	v.SetDefault("sftp.known_hosts", "")
	v.SetDefault("sftp.insecure_host_key", false)
	v.SetDefault("sftp.dial_timeout", 15*time.Second)
	v.SetDefault("sftp.dial_retries", 3)

	v.SetDefault("workerpool.workers", 16)
	v.SetDefault("workerpool.queue_size", 1024)
}

// Validate 检查启动所需的关键配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Security.MasterSecret) < 16 {
		return fmt.Errorf("security.master_secret must be at least 16 characters")
	}
	switch c.Security.KeyStore {
	case KeyStoreDatabase:
	case KeyStoreMemory:
		if c.Security.MemoryKeyCapacity <= 0 {
			return fmt.Errorf("security.memory_key_capacity must be positive")
		}
	default:
		return fmt.Errorf("unsupported security.key_store: %s", c.Security.KeyStore)
	}
	if _, err := biz.ParseChecksumAlgorithm(c.Storage.ChecksumAlgorithm); err != nil {
		return fmt.Errorf("storage.checksum_algorithm: %w", err)
	}
	if _, err := biz.NewSelectionStrategy(c.Storage.SelectionStrategy); err != nil {
		return fmt.Errorf("storage.selection_strategy: %w", err)
	}
	if c.Chunked.SessionTTL <= 0 {
		return fmt.Errorf("chunked.session_ttl must be positive")
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Nodes))
	for i := range c.Nodes {
		spec, err := c.Nodes[i].Spec()
		if err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if _, dup := seen[spec.NodeID]; dup {
			return fmt.Errorf("nodes[%d]: duplicate node id %s", i, spec.NodeID)
		}
		seen[spec.NodeID] = struct{}{}
	}
	return nil
}
