package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/model"
	"library-backend/internal/mw"
)

type reservationRequest struct {
	BookTitleID int64 `json:"book_title_id" binding:"required"`
}

// CreateReservation handles POST /api/reservations.
func (h *Handler) CreateReservation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.titleExists(c, req.BookTitleID) {
		return
	}

	r, err := h.queue.Enroll(c.Request.Context(), userID, req.BookTitleID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	position, err := h.queue.Position(c.Request.Context(), r)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"reservation":    r,
		"queue_position": position,
	})
}

// CancelReservation handles DELETE /api/reservations/:reservation_id.
func (h *Handler) CancelReservation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	reservationID, err := strconv.ParseInt(c.Param("reservation_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid reservation ID"})
		return
	}

	r, err := h.queue.Cancel(c.Request.Context(), reservationID, userID, mw.IsAdmin(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservation": r})
}

// GetUserReservations handles GET /api/users/:user_id/reservations.
func (h *Handler) GetUserReservations(c *gin.Context) {
	callerID, ok := requireUser(c)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}
	if userID != callerID && !mw.IsAdmin(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cannot list another user's reservations"})
		return
	}

	reservations, err := h.queue.ListByUser(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	type entry struct {
		model.Reservation
		QueuePosition *int `json:"queue_position,omitempty"`
	}
	out := make([]entry, 0, len(reservations))
	for _, r := range reservations {
		e := entry{Reservation: r}
		if r.Status == model.ReservationActive {
			pos, err := h.queue.Position(c.Request.Context(), &r)
			if err != nil {
				abortWithError(c, err)
				return
			}
			e.QueuePosition = &pos
		}
		out = append(out, e)
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out})
}
