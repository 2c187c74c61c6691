package biz

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
)

// BackendType 存储后端类型（封闭集合）
type BackendType string

const (
	// BackendObjectStoreA MinIO 兼容对象存储
	BackendObjectStoreA BackendType = "OBJECT_STORE_A"
	// BackendObjectStoreB AWS S3
	BackendObjectStoreB BackendType = "OBJECT_STORE_B"
	// BackendTransferServer SFTP 文件传输服务器
	BackendTransferServer BackendType = "TRANSFER_SERVER"
)

// BackendTypes 全部后端类型，路由器据此校验分发表是否完整
var BackendTypes = []BackendType{BackendObjectStoreA, BackendObjectStoreB, BackendTransferServer}

// ParseBackendType 解析后端类型，同时接受 minio/s3/sftp 别名
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(BackendObjectStoreA), "MINIO":
		return BackendObjectStoreA, nil
	case string(BackendObjectStoreB), "S3":
		return BackendObjectStoreB, nil
	case string(BackendTransferServer), "SFTP":
		return BackendTransferServer, nil
	}
	return "", errInvalid("unknown backend type %q", s)
}

// IsObjectStore 对象存储类后端（按 bucket/key 寻址）
func (b BackendType) IsObjectStore() bool {
	return b == BackendObjectStoreA || b == BackendObjectStoreB
}

// NodeStatus 节点状态
type NodeStatus string

const (
	NodeActive      NodeStatus = "ACTIVE"
	NodeFull        NodeStatus = "FULL"
	NodeMaintenance NodeStatus = "MAINTENANCE"
	NodeOffline     NodeStatus = "OFFLINE"
)

// ParseNodeStatus 解析节点状态
func ParseNodeStatus(s string) (NodeStatus, error) {
	switch st := NodeStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case NodeActive, NodeFull, NodeMaintenance, NodeOffline:
		return st, nil
	}
	return "", errInvalid("unknown node status %q", s)
}

// MaxUsedPercent 节点可写入的容量上限（不含）
const MaxUsedPercent = 95.0

// StorageNode 已注册的存储节点。AccessKey/SecretKey 为加密后的凭据
type StorageNode struct {
	NodeID          string
	BackendType     BackendType
	Endpoint        string
	PublicURL       string
	AccessKey       string
	SecretKey       string
	Bucket          string
	Region          string
	UseSSL          bool
	TotalCapacity   int64
	UsedCapacity    int64
	FileCount       int64
	Status          NodeStatus
	LastHealthCheck *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NodeSpec 节点注册请求（凭据为明文，注册时加密）
type NodeSpec struct {
	NodeID        string
	BackendType   BackendType
	Endpoint      string
	PublicURL     string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	TotalCapacity int64
	Status        NodeStatus
}

// Validate 注册前校验
func (s *NodeSpec) Validate() error {
	if strings.TrimSpace(s.NodeID) == "" {
		return errInvalid("node id is required")
	}
	if _, err := ParseBackendType(string(s.BackendType)); err != nil {
		return err
	}
	if s.Endpoint == "" {
		return errInvalid("node %s: endpoint is required", s.NodeID)
	}
	if s.BackendType == BackendTransferServer {
		u, err := url.Parse(s.Endpoint)
		if err != nil || u.Scheme != "sftp" || u.Host == "" {
			return errInvalid("node %s: transfer server endpoint must be sftp://user@host[:port]", s.NodeID)
		}
	}
	if s.TotalCapacity <= 0 {
		return errInvalid("node %s: total capacity must be positive", s.NodeID)
	}
	if s.Status != "" {
		if _, err := ParseNodeStatus(string(s.Status)); err != nil {
			return err
		}
	}
	return nil
}

// UsedPercent 已用容量百分比；容量未知的节点视为已满
func (n *StorageNode) UsedPercent() float64 {
	if n.TotalCapacity <= 0 {
		return 100
	}
	return float64(n.UsedCapacity) * 100 / float64(n.TotalCapacity)
}

// IsEligible 是否可接收新写入：ACTIVE 且使用率低于 95%
func (n *StorageNode) IsEligible() bool {
	return n.Status == NodeActive && n.UsedPercent() < MaxUsedPercent
}

// IsReadable 是否可读取：FULL 节点仍在线
func (n *StorageNode) IsReadable() bool {
	return n.Status == NodeActive || n.Status == NodeFull
}

// requireReadable 节点不可读时返回可重试的后端错误
func (n *StorageNode) requireReadable() error {
	if n.IsReadable() {
		return nil
	}
	return apperrors.New(apperrors.ErrBackendFailure, fmt.Sprintf("node %s is %s", n.NodeID, n.Status))
}
