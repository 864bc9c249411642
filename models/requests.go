package models

// RegisterBotRequest は POST /admin/bots のリクエストボディです。
type RegisterBotRequest struct {
	GameType     string `json:"gameType" binding:"required"`
	Name         string `json:"name" binding:"required"`
	PasswordHash string `json:"passwordHash" binding:"required"`
}
