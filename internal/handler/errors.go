package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/usermodel/internal/apperr"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/pkg/response"
)

// respondError maps service errors onto HTTP statuses. Anything untyped is a 500 and is logged.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	switch {
	case apperr.IsNotFound(err):
		response.NotFound(c, err.Error())
	case apperr.IsConflict(err):
		response.Conflict(c, err.Error())
	case apperr.IsValidation(err):
		response.BadRequest(c, err.Error())
	default:
		_ = c.Error(err)
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		response.InternalError(c, "internal server error")
	}
}

// parseID reads a positive numeric path parameter
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
