package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/mw"
)

// GetAvailability handles GET /api/books/:title_id/availability. Counters
// come from the TTL cache; the caller's queue position, when enrolled, is
// always recomputed fresh.
func (h *Handler) GetAvailability(c *gin.Context) {
	titleID, err := strconv.ParseInt(c.Param("title_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid title ID"})
		return
	}
	if !h.titleExists(c, titleID) {
		return
	}

	counts, hit, err := h.availability.Get(c.Request.Context(), titleID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	body := gin.H{
		"total_copies":     counts.Total,
		"available_copies": counts.Available,
		"loaned_copies":    counts.Loaned,
		"on_hold_copies":   counts.OnHold,
		"cached":           hit,
	}

	if userID, ok := mw.UserID(c); ok {
		position, err := h.queue.PositionForUser(c.Request.Context(), userID, titleID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if position != nil {
			body["queue_position"] = *position
		}
	}

	c.JSON(http.StatusOK, body)
}
