package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	AllowedOrigins []string
	JWTSecret      string
}

func SetupRouter(cfg RouterConfig, meetingController *MeetingController, signalingController *SignalingController) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowOrigins = cfg.AllowedOrigins
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(AuthMiddleware(cfg.JWTSecret))

	if meetingController != nil {
		meetings := api.Group("/meetings")
		meetings.GET("/:id", meetingController.Get)
		meetings.POST("/:id/join", meetingController.Join)
		meetings.POST("/:id/end", meetingController.End)

		api.GET("/rtc/ice-servers", meetingController.ICEServers)
	}

	if signalingController != nil {
		api.GET("/ws/meetings", signalingController.Connect)
	}

	return router
}
