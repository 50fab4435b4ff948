package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/middleware"
	"github.com/ukydev/fleet-reminders/internal/models"
)

// Router wires handlers to routes.
type Router struct {
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	Reminders *ReminderHandler
	Schedules *ScheduleHandler

	// SyncRateLimit is the number of on-demand syncs a caller may run per
	// minute.
	SyncRateLimit int
	Logger        log.FieldLogger
}

// Handler builds the HTTP handler. /health and /metrics are public; every
// other route needs a token whose role allows the route's action.
func (rt Router) Handler() http.Handler {
	mux := http.NewServeMux()
	guard := func(action string, h http.HandlerFunc) http.Handler {
		return rt.Auth.RequirePermission(action)(h)
	}

	var syncRoute http.Handler = http.HandlerFunc(rt.Reminders.Sync)
	if rt.RateLimit != nil && rt.SyncRateLimit > 0 {
		syncRoute = rt.RateLimit.RateLimit(rt.SyncRateLimit, time.Minute)(syncRoute)
	}
	mux.Handle("POST /api/reminders/sync", rt.Auth.RequirePermission(models.ActionRunSync)(syncRoute))
	mux.Handle("GET /api/reminders/sync/last", guard(models.ActionViewReminders, rt.Reminders.LastSync))
	mux.Handle("POST /api/reminders/{id}/work-order", guard(models.ActionLinkWorkOrder, rt.Reminders.LinkWorkOrder))
	mux.Handle("POST /api/reminders/{id}/complete", guard(models.ActionCloseReminder, rt.Reminders.Complete))
	mux.Handle("POST /api/reminders/{id}/cancel", guard(models.ActionCloseReminder, rt.Reminders.Cancel))
	mux.Handle("GET /api/vehicles/{id}/reminders", guard(models.ActionViewReminders, rt.Reminders.ListForVehicle))

	mux.Handle("POST /api/schedules", guard(models.ActionManageSchedule, rt.Schedules.Create))
	mux.Handle("GET /api/schedules/{id}", guard(models.ActionViewReminders, rt.Schedules.Get))
	mux.Handle("PUT /api/schedules/{id}", guard(models.ActionManageSchedule, rt.Schedules.Update))
	mux.Handle("DELETE /api/schedules/{id}", guard(models.ActionManageSchedule, rt.Schedules.Delete))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return rt.Auth.Authenticate(middleware.Logging(rt.Logger)(mux))
}
