package data

import (
	gormigrate "github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

var migrations = []*gormigrate.Migration{
	// 初始表结构
	{
		ID: "202503140001",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&StorageNodePO{},
				&FilePO{},
				&UploadSessionPO{},
				&FileChunkPO{},
				&EncryptionKeyPO{},
			)
		},
		Rollback: func(tx *gorm.DB) (err error) {
			for _, table := range []string{"encryption_keys", "file_chunks", "upload_sessions", "files", "storage_nodes"} {
				if err = tx.Migrator().DropTable(table); err != nil {
					return
				}
			}
			return
		},
	},
}

func migrator(db *gorm.DB) *gormigrate.Gormigrate {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations)
}

// Migrate 执行全部未应用的迁移
func Migrate(db *gorm.DB) error {
	return migrator(db).Migrate()
}

// RollbackLast 回滚最近一次迁移
func RollbackLast(db *gorm.DB) error {
	return migrator(db).RollbackLast()
}
