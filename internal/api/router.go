package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"library-backend/config"
	"library-backend/internal/model"
	"library-backend/internal/mw"
	"library-backend/internal/ratelimit"
)

// NewRouter creates and configures the Gin router. Every route sits
// behind the coarse per-IP guard; mutating and read routes additionally
// pass the per-actor sliding-window admission for their action class.
func NewRouter(cfg *config.Config, handler *Handler, limiter *ratelimit.Limiter) *gin.Engine {
	r := gin.Default()

	ipGuard := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	api := r.Group("/api")
	api.Use(ipGuard)
	{
		api.POST("/loans", mw.Admit(limiter, "borrow"), handler.BorrowBook)
		api.PATCH("/loans/:loan_id/renew", mw.Admit(limiter, "renew"), handler.RenewLoan)
		api.PATCH("/loans/:loan_id/return", mw.Admit(limiter, "return"), handler.ReturnLoan)
		api.GET("/users/:user_id/loans", mw.Admit(limiter, "list"), handler.GetUserLoans)

		api.POST("/reservations", mw.Admit(limiter, "reserve"), handler.CreateReservation)
		api.DELETE("/reservations/:reservation_id", mw.Admit(limiter, "reserve"), handler.CancelReservation)
		api.GET("/users/:user_id/reservations", mw.Admit(limiter, "list"), handler.GetUserReservations)

		api.GET("/books/:title_id/availability", mw.Admit(limiter, "availability"), handler.GetAvailability)

		admin := api.Group("/admin")
		admin.Use(mw.RequireRole(model.RoleAdmin))
		{
			admin.POST("/process-holds", handler.ProcessHolds)
			admin.POST("/expire-holds", handler.ExpireHolds)
		}
	}

	return r
}
