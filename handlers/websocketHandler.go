package handlers

import (
	"context"

	"botarena/gateway"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebSocketHandler は接続をアップグレードし、認証を別のゴルーチンで始めます。
// 認証後の接続は Matcher とセッションが引き継ぐので base の寿命で動かします。
func WebSocketHandler(base context.Context, gw *gateway.Gateway, authenticator Handshaker, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// アップグレードに失敗した場合は upgrader がエラーレスポンスを書き込み済み
		conn, err := gw.Accept(c.Writer, c.Request)
		if err != nil {
			return
		}
		go func() {
			if _, err := authenticator.Handle(base, conn); err != nil {
				logger.Debug("Handshake ended", zap.String("connID", conn.ID()), zap.Error(err))
			}
		}()
	}
}
