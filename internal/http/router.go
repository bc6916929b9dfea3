package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/config"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/http/handler"
	httpmiddleware "github.com/Abdullahkhan871/echoSphere-BACKEND/internal/http/middleware"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/middleware"
)

// NewRouter wires gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/auth")
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/request-password-reset", authHandler.RequestPasswordReset)
		auth.POST("/reset-password", authHandler.ResetPassword)

		auth.GET("/me", authMiddleware.RequireSession, authHandler.Me)
		auth.POST("/add-profile-pic", authMiddleware.RequireSession, authHandler.AddProfilePic)
		auth.POST("/add-about-me", authMiddleware.RequireSession, authHandler.AddAboutMe)
		auth.POST("/add-mobile-number", authMiddleware.RequireSession, authHandler.AddMobileNumber)
		auth.POST("/request-verify-email", authMiddleware.RequireSession, authHandler.RequestVerifyEmail)
		auth.POST("/verify-email", authMiddleware.RequireSession, authHandler.VerifyEmail)
	}

	return r
}
