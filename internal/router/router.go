package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/handler"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Review  *handler.ReviewHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// violationLimiter may be nil, in which case violation routes are unthrottled.
func SetupRouter(
	authService *service.AuthService,
	violationLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", handler.SessionTokenHeader}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	throttle := func(c *gin.Context) { c.Next() }
	if violationLimiter != nil {
		throttle = violationLimiter.PerParam("attempt_id")
	}

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/exams/:exam_id/attempts", handlers.Attempt.StartAttempt)
		studentAPI.GET("/exams/:exam_id/heartbeat", handlers.Attempt.Heartbeat)

		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		studentAPI.PUT("/attempts/:attempt_id/answers", handlers.Attempt.SaveAnswers)
		studentAPI.POST("/attempts/:attempt_id/violations", throttle, handlers.Attempt.ReportViolation)
		studentAPI.POST("/attempts/:attempt_id/system-check", throttle, handlers.Attempt.SystemCheck)
		studentAPI.POST("/attempts/:attempt_id/flags", handlers.Attempt.FlagAttempt)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Teacher Group (JWT, exam author only) ──────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		teacherAPI.GET("/exams/:id/flags", handlers.Review.ListExamFlags)
		teacherAPI.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)

		teacherAPI.GET("/attempts/:attempt_id/violations", handlers.Review.ListAttemptViolations)
		teacherAPI.GET("/attempts/:attempt_id/metrics", handlers.Review.GetAttemptMetrics)

		teacherAPI.PATCH("/flags/:id", handlers.Review.ReviewFlag)
	}

	return router
}
