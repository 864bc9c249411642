package handlers

import (
	"errors"
	"net/http"

	"botarena/database"
	"botarena/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterBot は新しいボットの認証情報を発行します。
// 一度発行した (gameType, name) は上書きできません。
func RegisterBot(credentials CredentialCreator, knownGame func(string) bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RegisterBotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !knownGame(req.GameType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown game type"})
			return
		}

		credential := models.Credential{
			GameType:     req.GameType,
			Name:         req.Name,
			PasswordHash: req.PasswordHash,
		}
		err := credentials.CreateCredential(c.Request.Context(), &credential)
		if errors.Is(err, database.ErrCredentialExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "bot already registered"})
			return
		}
		if err != nil {
			logger.Error("Failed to create credential", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create credential"})
			return
		}

		logger.Info("Bot registered",
			zap.String("gameType", credential.GameType),
			zap.String("name", credential.Name),
			zap.String("by", c.GetString("adminSubject")),
		)
		c.JSON(http.StatusCreated, gin.H{"gameType": credential.GameType, "name": credential.Name})
	}
}
