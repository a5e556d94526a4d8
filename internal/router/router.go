package router

import (
	"github.com/blues/chamasvc/internal/batch"
	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/handler"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, notifier *notify.Notifier, pool *batch.Pool, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "chama-service",
		})
	})

	// API版本组
	v1 := r.Group("/api/v1")
	{
		chamaHandler := handler.NewChamaHandler(db, notifier)
		roundHandler := handler.NewRoundHandler(db, notifier)
		contributionHandler := handler.NewContributionHandler(db, notifier)
		memberHandler := handler.NewMemberHandler(db, notifier)
		batchHandler := handler.NewBatchHandler(db, pool)
		streamHandler := handler.NewStreamHandler(notifier)

		// 储蓄圈相关路由
		chamas := v1.Group("/chamas")
		{
			chamas.POST("", chamaHandler.CreateChama)
			chamas.GET("", chamaHandler.GetChamas)
			chamas.GET("/:id", chamaHandler.GetChama)
			chamas.GET("/:id/stats", chamaHandler.GetChamaStats)
			chamas.PUT("/:id/status", chamaHandler.UpdateStatus)
			chamas.GET("/:id/members", chamaHandler.GetMembers)
			chamas.GET("/:id/access", chamaHandler.GetAccessLevel)
			chamas.GET("/:id/stream", streamHandler.StreamChanges)

			chamas.POST("/:id/rounds", roundHandler.CreateRound)
			chamas.GET("/:id/rounds", roundHandler.GetRounds)
			chamas.GET("/:id/rounds/active", roundHandler.GetActiveRound)

			chamas.POST("/:id/contributions", contributionHandler.RecordContribution)
			chamas.GET("/:id/contributions", contributionHandler.GetChamaContributions)
			chamas.GET("/:id/contributions/stats", contributionHandler.GetContributionStats)

			chamas.POST("/:id/batches", batchHandler.EnqueueIntent)
			chamas.GET("/:id/batches", batchHandler.GetChamaBatches)
		}

		// 邀请码加入
		v1.POST("/invites/:code/join", chamaHandler.JoinChama)

		// 成员相关路由
		members := v1.Group("/members")
		{
			members.POST("/deposit", memberHandler.RecordDeposit)
			members.PUT("/:id/default", memberHandler.MarkDefaulted)
		}

		// 轮次相关路由
		rounds := v1.Group("/rounds")
		{
			rounds.PUT("/:round_id/complete", roundHandler.CompleteRound)
			rounds.GET("/:round_id/contributions", contributionHandler.GetRoundContributions)
		}

		// 批次查询
		v1.GET("/batches/:batch_id", batchHandler.GetBatch)
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
