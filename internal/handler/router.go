package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mshop/internal/middleware"
	"github.com/xxxsen/mshop/internal/ratelimit"
)

var (
	credentialRule     = ratelimit.Rule{Limit: 5, Window: 15 * time.Minute}
	changePasswordRule = ratelimit.Rule{Limit: 3, Window: time.Hour}
	mailRule           = ratelimit.Rule{Limit: 3, Window: 15 * time.Minute}
)

type RouterDeps struct {
	Auth      *AuthHandler
	Limiter   ratelimit.Limiter
	JWTSecret []byte
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	limit := func(rule ratelimit.Rule) gin.HandlerFunc {
		return middleware.RateLimit(deps.Limiter, rule)
	}
	api.POST("/auth/register", limit(credentialRule), deps.Auth.Register)
	api.POST("/auth/login", limit(credentialRule), deps.Auth.Login)
	api.POST("/auth/verify-email", deps.Auth.VerifyEmail)
	api.GET("/auth/verify-email", deps.Auth.VerifyEmailLink)
	api.POST("/auth/resend-verification", limit(mailRule), deps.Auth.ResendVerification)
	api.POST("/auth/forgot-password", limit(mailRule), deps.Auth.ForgotPassword)
	api.POST("/auth/reset-password", deps.Auth.ResetPassword)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.GET("/auth/profile", deps.Auth.Profile)
	authGroup.PUT("/auth/change-password", limit(changePasswordRule), deps.Auth.ChangePassword)
}
