package models

import (
	"time"

	"gorm.io/gorm"
)

// Credential モデルの定義
// (game_type, name) でボットを一意に識別します。発行後は変更しません。
type Credential struct {
	gorm.Model
	GameType     string `gorm:"not null;uniqueIndex:idx_credential_identity"`
	Name         string `gorm:"not null;uniqueIndex:idx_credential_identity"`
	PasswordHash string `gorm:"not null"`
}

// SessionRecord は終了したセッションの記録です。
type SessionRecord struct {
	gorm.Model
	SessionID     string `gorm:"uniqueIndex;not null"`
	GameType      string `gorm:"index;not null"`
	Contest       string `gorm:"index"`
	FirstPlayer   string `gorm:"not null"` // 先手
	SecondPlayer  string `gorm:"not null"` // 後手
	Winner        string // 引き分けの場合は空文字
	Reason        string `gorm:"not null"` // complete, timeout, disconnect, repeated-invalid-moves
	StartedAt     time.Time
	FinishedAt    time.Time `gorm:"index"`
	Turns         int
	FirstStrikes  int
	SecondStrikes int
	FirstScore    int
	SecondScore   int
	FinalState    string `gorm:"type:text"` // ゲームモジュールが決めるJSON
}
