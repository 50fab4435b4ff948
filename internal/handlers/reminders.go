package handlers

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/models"
	"github.com/ukydev/fleet-reminders/internal/reconcile"
	"github.com/ukydev/fleet-reminders/internal/reminders"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Syncer runs reminder syncs.
type Syncer interface {
	Sync(ctx context.Context, req reconcile.SyncRequest) (reconcile.SyncResult, error)
}

// LastSyncer reports the most recent scheduled sync.
type LastSyncer interface {
	Last() (reconcile.SyncResult, bool)
}

// ReminderHandler serves sync and reminder actions
type ReminderHandler struct {
	syncer    Syncer
	last      LastSyncer
	reminders *reminders.Service
	log       log.FieldLogger
}

// NewReminderHandler creates a new reminder handler. last may be nil when
// no scheduler runs.
func NewReminderHandler(syncer Syncer, last LastSyncer, reminders *reminders.Service, logger log.FieldLogger) *ReminderHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ReminderHandler{
		syncer:    syncer,
		last:      last,
		reminders: reminders,
		log:       logger.WithField("component", "http"),
	}
}

// Sync runs a sync for the optional program and vehicle scope in the body.
// Pair failures are reported in the result with status 200.
func (h *ReminderHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req reconcile.SyncRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, h.log, err)
		return
	}

	result, err := h.syncer.Sync(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// LastSync returns the result of the most recent scheduled sync
func (h *ReminderHandler) LastSync(w http.ResponseWriter, r *http.Request) {
	if h.last == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "scheduler is not running"})
		return
	}
	result, ok := h.last.Last()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no sync has run yet"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type linkWorkOrderRequest struct {
	WorkOrderID string `json:"work_order_id"`
}

// LinkWorkOrder attaches a work order to a reminder
func (h *ReminderHandler) LinkWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req linkWorkOrderRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}
	workOrderID, err := primitive.ObjectIDFromHex(req.WorkOrderID)
	if err != nil {
		writeError(w, h.log, models.Invalid("work_order_id", "%q is not a valid id", req.WorkOrderID))
		return
	}

	reminder, err := h.reminders.LinkWorkOrder(r.Context(), id, workOrderID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

// Complete marks a reminder completed
func (h *ReminderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, h.reminders.Complete)
}

// Cancel marks a reminder cancelled
func (h *ReminderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, h.reminders.Cancel)
}

func (h *ReminderHandler) finalize(w http.ResponseWriter, r *http.Request,
	action func(context.Context, primitive.ObjectID) (*models.Reminder, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	reminder, err := action(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

// ListForVehicle returns every reminder of a vehicle
func (h *ReminderHandler) ListForVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	list, err := h.reminders.ListForVehicle(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
