package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amara-dev/chatflow/internal/apperr"
)

// respondError maps the closed error set to transport status codes. This is
// the only place that translation happens; nothing below the handlers knows
// about HTTP. Validation and not-found carry their message to the caller;
// everything else is a generic 500; internal detail stays in the logs.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperr.KindConflict:
		// The directory is designed to make this unreachable. If it fires,
		// that is a defect worth a loud log line.
		logger.Error("uniqueness conflict reached the boundary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	default:
		logger.Error("request failed",
			zap.String("kind", kind.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
