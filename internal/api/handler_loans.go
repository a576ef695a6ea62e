package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/mw"
)

type borrowRequest struct {
	BookTitleID int64 `json:"book_title_id" binding:"required"`
}

// BorrowBook handles POST /api/loans.
func (h *Handler) BorrowBook(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.titleExists(c, req.BookTitleID) {
		return
	}

	result, err := h.loans.Borrow(c.Request.Context(), userID, req.BookTitleID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if result.Loan != nil {
		c.JSON(http.StatusCreated, gin.H{"loan": result.Loan})
		return
	}

	// Title exhausted: the caller is in the queue (newly or already).
	position, err := h.queue.Position(c.Request.Context(), result.Reservation)
	if err != nil {
		abortWithError(c, err)
		return
	}
	message := "no copy available; reservation already pending"
	if result.Enrolled {
		message = "no copy available; enrolled in the wait list"
	}
	c.JSON(http.StatusAccepted, gin.H{
		"reservation":    result.Reservation,
		"queue_position": position,
		"enrolled":       result.Enrolled,
		"message":        message,
	})
}

// RenewLoan handles PATCH /api/loans/:loan_id/renew.
func (h *Handler) RenewLoan(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	loanID, err := strconv.ParseInt(c.Param("loan_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid loan ID"})
		return
	}

	result, err := h.loans.Renew(c.Request.Context(), loanID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"loan":              result.Loan,
		"previous_due_date": result.PreviousDueDate,
		"new_due_date":      result.NewDueDate,
	})
}

// ReturnLoan handles PATCH /api/loans/:loan_id/return.
func (h *Handler) ReturnLoan(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	loanID, err := strconv.ParseInt(c.Param("loan_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid loan ID"})
		return
	}

	result, err := h.loans.Return(c.Request.Context(), loanID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"loan":         result.Loan,
		"days_overdue": result.DaysOverdue,
		"fine_cents":   result.FineCents,
	})
}

// GetUserLoans handles GET /api/users/:user_id/loans.
func (h *Handler) GetUserLoans(c *gin.Context) {
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
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cannot list another user's loans"})
		return
	}

	loans, err := h.loans.ListByUser(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loans": loans})
}
