package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"botarena/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
)

// Store はセッション記録と認証情報の永続化を担当します。
// gorm のコネクションプールがどの経路でも接続を返却します。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// FindCredential は (gameType, name) の認証情報を返します。
// 見つからない場合は ErrCredentialNotFound を返します。
func (s *Store) FindCredential(ctx context.Context, gameType, name string) (*models.Credential, error) {
	var credential models.Credential
	err := s.db.WithContext(ctx).
		Where("game_type = ? AND name = ?", gameType, name).
		First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential %s/%s: %w", gameType, name, err)
	}
	return &credential, nil
}

// CreateCredential は新しいボットを登録します。既存の認証情報は上書きしません。
func (s *Store) CreateCredential(ctx context.Context, credential *models.Credential) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Credential{}).
			Where("game_type = ? AND name = ?", credential.GameType, credential.Name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrCredentialExists
		}
		return tx.Create(credential).Error
	})
	if err != nil {
		if errors.Is(err, ErrCredentialExists) || isUniqueViolation(err) {
			return ErrCredentialExists
		}
		return fmt.Errorf("create credential %s/%s: %w", credential.GameType, credential.Name, err)
	}
	s.logger.Info("Credential issued", zap.String("gameType", credential.GameType), zap.String("name", credential.Name))
	return nil
}

// SaveSession は終了したセッションを保存します。
func (s *Store) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("save session %s: %w", record.SessionID, err)
	}
	return nil
}

// PruneSessions は before より前に終了したセッション記録を削除し、削除件数を返します。
func (s *Store) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Unscoped().
		Where("finished_at < ?", before).
		Delete(&models.SessionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// 同時登録で一意制約に当たった場合
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "SQLSTATE 23505")
}
