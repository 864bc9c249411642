package migrations

import (
	"fmt"

	"botarena/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrateDB は認証情報とセッション記録のテーブルを作成・更新します。
func AutoMigrateDB(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&models.Credential{}, &models.SessionRecord{}); err != nil {
		return fmt.Errorf("error migrating tables: %w", err)
	}
	logger.Info("Credential and SessionRecord tables migrated")
	return nil
}
