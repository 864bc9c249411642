package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

type queueStat struct {
	GameType string `json:"gameType"`
	Contest  string `json:"contest,omitempty"`
	Waiting  int    `json:"waiting"`
}

type statsResponse struct {
	ActiveSessions int         `json:"activeSessions"`
	Queues         []queueStat `json:"queues"`
}

// StatsHandler は待機中のボット数と進行中のセッション数を返します。
func StatsHandler(queues QueueStats, sessions ActiveSessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := statsResponse{
			ActiveSessions: sessions.Active(),
			Queues:         []queueStat{},
		}
		for key, waiting := range queues.Stats() {
			resp.Queues = append(resp.Queues, queueStat{GameType: key.GameType, Contest: key.Contest, Waiting: waiting})
		}
		sort.Slice(resp.Queues, func(i, j int) bool {
			if resp.Queues[i].GameType != resp.Queues[j].GameType {
				return resp.Queues[i].GameType < resp.Queues[j].GameType
			}
			return resp.Queues[i].Contest < resp.Queues[j].Contest
		})
		c.JSON(http.StatusOK, resp)
	}
}
