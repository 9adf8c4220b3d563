package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mshop/internal/middleware"
	"github.com/xxxsen/mshop/internal/pkg/errcode"
	appErr "github.com/xxxsen/mshop/internal/pkg/errors"
	"github.com/xxxsen/mshop/internal/pkg/response"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Unknown email and wrong password share ErrUnauthorized and therefore one
// message. Keep them that way.
var errorTable = []errorMapping{
	{appErr.ErrUnauthorized, http.StatusUnauthorized, errcode.Unauthorized, "Invalid credentials"},
	{appErr.ErrEmailNotVerified, http.StatusUnauthorized, errcode.EmailNotVerified, "Please verify your email before logging in"},
	{appErr.ErrForbidden, http.StatusForbidden, errcode.Forbidden, "forbidden"},
	{appErr.ErrNotFound, http.StatusNotFound, errcode.NotFound, "not found"},
	{appErr.ErrInvalid, http.StatusBadRequest, errcode.Invalid, "invalid request"},
	{appErr.ErrConflict, http.StatusConflict, errcode.Conflict, "User with this email already exists"},
	{appErr.ErrTooMany, http.StatusTooManyRequests, errcode.TooMany, "Too many requests, please try again later"},
	{appErr.ErrTokenInvalid, http.StatusBadRequest, errcode.TokenInvalid, "Invalid or expired token"},
	{appErr.ErrTokenExpired, http.StatusBadRequest, errcode.TokenExpired, "Token has expired. Please request a new one."},
	{appErr.ErrNotifyFailed, http.StatusBadRequest, errcode.NotifyFailed, "Failed to send email. Please try again later."},
	{appErr.ErrWeakPassword, http.StatusBadRequest, errcode.WeakPassword, "Password must be at least 6 characters long"},
	{appErr.ErrPasswordMismatch, http.StatusBadRequest, errcode.PasswordMismatch, "Current password is incorrect"},
	{appErr.ErrPasswordReused, http.StatusBadRequest, errcode.PasswordReused, "New password must be different from the current password"},
}

func getUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

func invalidRequest(c *gin.Context) {
	response.Error(c, http.StatusBadRequest, errcode.Invalid, "invalid request")
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
	)
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			logger.Debug("request rejected", zap.String("code", m.code), zap.Error(err))
			response.Error(c, m.status, m.code, m.message)
			return
		}
	}
	logger.Error("request failed", zap.Error(err))
	response.Error(c, http.StatusInternalServerError, errcode.Unknown, "internal error")
}
