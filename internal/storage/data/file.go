package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"gorm.io/gorm"
)

// FilePO 文件元数据表。删除为状态位，行保留以支持去重恢复
type FilePO struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	OwnerID     string `gorm:"size:64;not null;index:idx_files_owner_status,priority:1;uniqueIndex:idx_files_owner_checksum,priority:1"`
	FolderID    string `gorm:"size:64"`
	Name        string `gorm:"size:255;not null"`
	ContentType string `gorm:"size:255"`
	Size        int64  `gorm:"not null"`
	Status      string `gorm:"size:16;not null;index:idx_files_owner_status,priority:2"`

	// 存储引用，位置只存密文
	BackendType   string `gorm:"size:32;not null"`
	NodeID        string `gorm:"size:64;not null;index"`
	EncryptedPath string `gorm:"type:text;not null"`
	KeyRef        string `gorm:"size:64;not null"`
	Bucket        string `gorm:"size:128"`
	Region        string `gorm:"size:64"`

	ChecksumAlgorithm string `gorm:"size:16;not null;uniqueIndex:idx_files_owner_checksum,priority:2"`
	Checksum          string `gorm:"size:128;not null;uniqueIndex:idx_files_owner_checksum,priority:3"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (FilePO) TableName() string {
	return "files"
}

// FileRepo implements biz.FileRepo
type FileRepo struct {
	db *database.DB
}

var _ biz.FileRepo = (*FileRepo)(nil)

func NewFileRepo(db *database.DB) *FileRepo {
	return &FileRepo{db: db}
}

func toFilePO(f *biz.FileAggregate) *FilePO {
	m, r, c := f.Metadata(), f.Reference(), f.Checksum()
	return &FilePO{
		ID:                f.ID(),
		OwnerID:           m.OwnerID,
		FolderID:          m.FolderID,
		Name:              m.Name,
		ContentType:       m.ContentType,
		Size:              m.Size,
		Status:            string(m.Status),
		BackendType:       string(r.BackendType()),
		NodeID:            r.NodeID(),
		EncryptedPath:     r.EncryptedPath(),
		KeyRef:            r.KeyRef(),
		Bucket:            r.Bucket(),
		Region:            r.Region(),
		ChecksumAlgorithm: string(c.Algorithm()),
		Checksum:          c.Value(),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func (po *FilePO) toAggregate() (*biz.FileAggregate, error) {
	sum, err := biz.NewFileChecksum(biz.ChecksumAlgorithm(po.ChecksumAlgorithm), po.Checksum)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", po.ID, err)
	}
	ref, err := biz.NewStorageReference(biz.BackendType(po.BackendType), po.NodeID, po.EncryptedPath, po.KeyRef, po.Bucket, po.Region)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", po.ID, err)
	}
	return biz.NewFileAggregate(po.ID, biz.FileMetadata{
		Name:        po.Name,
		ContentType: po.ContentType,
		Size:        po.Size,
		OwnerID:     po.OwnerID,
		FolderID:    po.FolderID,
		Status:      biz.FileStatus(po.Status),
		CreatedAt:   po.CreatedAt,
		UpdatedAt:   po.UpdatedAt,
	}, ref, sum)
}

func fileNotFound(id string) error {
	return apperrors.New(apperrors.ErrFileNotFound, "file "+id)
}

func (r *FileRepo) Save(ctx context.Context, f *biz.FileAggregate) error {
	if err := r.db.WithContext(ctx).Create(toFilePO(f)).Error; err != nil {
		if database.IsDuplicateKeyError(err) {
			return biz.ErrDuplicateChecksum
		}
		return err
	}
	return nil
}

func (r *FileRepo) FindByID(ctx context.Context, id string) (*biz.FileAggregate, error) {
	var po FilePO
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, fileNotFound(id)
		}
		return nil, err
	}
	return po.toAggregate()
}

// FindByChecksum 未命中时返回 (nil, nil)
func (r *FileRepo) FindByChecksum(ctx context.Context, ownerID string, sum biz.FileChecksum) (*biz.FileAggregate, error) {
	var pos []FilePO
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND checksum_algorithm = ? AND checksum = ?", ownerID, string(sum.Algorithm()), sum.Value()).
		Limit(1).Find(&pos).Error
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, nil
	}
	return pos[0].toAggregate()
}

func (r *FileRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*biz.FileAggregate, error) {
	var po FilePO
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, fileNotFound(id)
		}
		return nil, err
	}
	return po.toAggregate()
}

// ListByOwner 按创建时间倒序分页，不含已删除文件
func (r *FileRepo) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]*biz.FileAggregate, int64, error) {
	q := r.db.WithContext(ctx).Model(&FilePO{}).
		Where("owner_id = ? AND status <> ?", ownerID, string(biz.FileDeleted)).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var pos []FilePO
	if err := q.Scopes(database.Paginate(page, pageSize)).Order("created_at DESC, id").Find(&pos).Error; err != nil {
		return nil, 0, err
	}

	files := make([]*biz.FileAggregate, 0, len(pos))
	for i := range pos {
		f, err := pos[i].toAggregate()
		if err != nil {
			return nil, 0, err
		}
		files = append(files, f)
	}
	return files, total, nil
}

func (r *FileRepo) SoftDelete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&FilePO{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": string(biz.FileDeleted), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fileNotFound(id)
	}
	return nil
}

// Restore 覆盖可变的元数据字段；存储引用与校验和不变
func (r *FileRepo) Restore(ctx context.Context, f *biz.FileAggregate) error {
	po := toFilePO(f)
	res := r.db.WithContext(ctx).Model(&FilePO{ID: po.ID}).
		Select("name", "content_type", "folder_id", "status", "updated_at").
		Updates(po)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fileNotFound(po.ID)
	}
	return nil
}

func (r *FileRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&FilePO{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}
