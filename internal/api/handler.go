package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"library-backend/internal/availability"
	"library-backend/internal/ledger"
	"library-backend/internal/loan"
	"library-backend/internal/model"
	"library-backend/internal/mw"
	"library-backend/internal/reservation"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db           *gorm.DB
	loans        *loan.Service
	queue        *reservation.Manager
	availability *availability.Service
}

// NewHandler creates a new API handler.
func NewHandler(db *gorm.DB, loans *loan.Service, queue *reservation.Manager, avail *availability.Service) *Handler {
	return &Handler{
		db:           db,
		loans:        loans,
		queue:        queue,
		availability: avail,
	}
}

// statusFor maps the engine's error taxonomy onto HTTP statuses. Every
// business signal keeps its own distinguishable response.
func statusFor(err error) int {
	switch {
	case errors.Is(err, loan.ErrNotFound),
		errors.Is(err, reservation.ErrNotFound),
		errors.Is(err, ledger.ErrCopyNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrNotOwner),
		errors.Is(err, reservation.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNoCopyAvailable),
		errors.Is(err, loan.ErrAlreadyReturned),
		errors.Is(err, reservation.ErrAlreadyReserved),
		errors.Is(err, reservation.ErrCopiesAvailable),
		errors.Is(err, reservation.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, loan.ErrRenewalLimit),
		errors.Is(err, loan.ErrOverdue),
		errors.Is(err, loan.ErrTitleReserved),
		errors.Is(err, loan.ErrActiveLoanLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrStoreBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// requireUser resolves the caller's identity or aborts with 401.
func requireUser(c *gin.Context) (int64, bool) {
	id, ok := mw.UserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + mw.HeaderUserID + " header"})
		return 0, false
	}
	return id, true
}

// titleExists aborts with 404 when the title is not in the catalog.
func (h *Handler) titleExists(c *gin.Context, titleID int64) bool {
	var t model.BookTitle
	err := h.db.First(&t, titleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return false
	}
	if err != nil {
		abortWithError(c, err)
		return false
	}
	return true
}
