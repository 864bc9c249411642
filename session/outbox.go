package session

import (
	"context"
	"errors"

	"botarena/gateway"
	"botarena/internal/feed"
	"botarena/internal/game"

	"go.uber.org/zap"
)

// invalidTurn は無効手を打った参加者にだけ送るメッセージです。
type invalidTurn struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

type verdictMessage struct {
	Verdict game.Verdict `json:"verdict"`
}

// forward は更新の履歴を先頭から読み、player 宛ての送信内容だけを接続に書き込みます。
// 履歴が閉じられて読み切ると戻ります。
func forward(ctx context.Context, cur *feed.Cursor[game.Update], player int, conn gateway.Conn, logger *zap.Logger) {
	for {
		u, err := cur.Next(ctx)
		if err != nil {
			return
		}
		payload, ok := u.Outgoing[player]
		if !ok {
			continue
		}
		if err := conn.Send(payload); err != nil {
			if !errors.Is(err, gateway.ErrClosed) {
				logger.Error("Failed to send update", zap.Int("player", player), zap.Error(err))
			}
			// 切断後も読み進めて履歴の終わりを待つ
			continue
		}
	}
}
