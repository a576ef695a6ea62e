package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ProcessHolds handles POST /api/admin/process-holds.
func (h *Handler) ProcessHolds(c *gin.Context) {
	result, err := h.queue.ProcessHolds(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExpireHolds handles POST /api/admin/expire-holds.
func (h *Handler) ExpireHolds(c *gin.Context) {
	result, err := h.queue.ExpireHolds(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
