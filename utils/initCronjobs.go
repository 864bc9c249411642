package utils

import (
	"context"
	"time"

	"botarena/matcher"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionPruner は古いセッション記録を削除します。
type SessionPruner interface {
	PruneSessions(ctx context.Context, before time.Time) (int64, error)
}

// QueueStats は待機列の状況を返します。
type QueueStats interface {
	Stats() map[matcher.Key]int
}

// CronCleaner は定期ジョブを登録して開始します。止めるときは Stop を呼んでください。
func CronCleaner(pruner SessionPruner, queues QueueStats, retention time.Duration, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()

	// 保存期間を過ぎたセッション記録を削除するジョブ（"分 時 日 月 曜日"）
	if _, err := c.AddFunc("0 3 * * *", func() {
		PruneSessions(pruner, retention, logger)
	}); err != nil {
		return nil, err
	}

	// 待機列の状況を記録するジョブ
	if _, err := c.AddFunc("@every 1m", func() {
		LogQueueStats(queues, logger)
	}); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

func PruneSessions(pruner SessionPruner, retention time.Duration, logger *zap.Logger) {
	logger.Info("古いセッション記録を削除する処理を開始")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	deleted, err := pruner.PruneSessions(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Error("セッション記録の削除に失敗しました", zap.Error(err))
		return
	}
	logger.Info("セッション記録の削除完了", zap.Int64("sessions_deleted", deleted))
}

func LogQueueStats(queues QueueStats, logger *zap.Logger) {
	for key, waiting := range queues.Stats() {
		if waiting == 0 {
			continue
		}
		logger.Info("queue",
			zap.String("gameType", key.GameType),
			zap.String("contest", key.Contest),
			zap.Int("waiting", waiting),
		)
	}
}
