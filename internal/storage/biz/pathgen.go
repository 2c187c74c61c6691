package biz

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxObjectNameLen = 200

// DefaultBucket 节点未配置 bucket 时按月份生成
func DefaultBucket(now time.Time) string {
	return fmt.Sprintf("files-%04d-%02d", now.Year(), int(now.Month()))
}

// BucketFor 节点的目标 bucket
func BucketFor(node *StorageNode, now time.Time) string {
	if !node.BackendType.IsObjectStore() {
		return ""
	}
	if node.Bucket != "" {
		return node.Bucket
	}
	return DefaultBucket(now.UTC())
}

// BasePath 对象存储按日期与所有者分目录；SFTP 只按所有者
func BasePath(backend BackendType, ownerID string, now time.Time) string {
	owner := SanitizeFileName(ownerID)
	if backend.IsObjectStore() {
		now = now.UTC()
		return fmt.Sprintf("%04d/%02d/%02d/users/%s", now.Year(), int(now.Month()), now.Day(), owner)
	}
	return "users/" + owner
}

// ObjectName 物理对象名 {fileId}_{sanitizedName}
func ObjectName(fileID, fileName string) string {
	return fileID + "_" + SanitizeFileName(fileName)
}

// ChunkBasePath 分片目录
func ChunkBasePath(sessionID string) string {
	return "chunks/" + sessionID
}

// ChunkName 分片对象名 {fileName}_chunk_{n}
func ChunkName(fileName string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", SanitizeFileName(fileName), n)
}

// SanitizeFileName 去掉目录成分和不安全字符
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	if len(name) > maxObjectNameLen {
		name = name[len(name)-maxObjectNameLen:]
	}
	return name
}
