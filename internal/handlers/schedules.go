package handlers

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/models"
	"github.com/ukydev/fleet-reminders/internal/schedules"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notifier is told when schedules change so reminders get reconciled
// without waiting for the next interval.
type Notifier interface {
	Notify()
}

// ScheduleHandler handles schedule maintenance
type ScheduleHandler struct {
	schedules *schedules.Service
	notifier  Notifier
	log       log.FieldLogger
}

// NewScheduleHandler creates a new schedule handler. notifier may be nil.
func NewScheduleHandler(schedules *schedules.Service, notifier Notifier, logger log.FieldLogger) *ScheduleHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ScheduleHandler{
		schedules: schedules,
		notifier:  notifier,
		log:       logger.WithField("component", "http"),
	}
}

type scheduleRequest struct {
	ProgramID string   `json:"program_id"`
	Name      string   `json:"name"`
	TaskIDs   []string `json:"task_ids"`
	models.RuleSpec
}

func (req scheduleRequest) schedule() (*models.Schedule, error) {
	taskIDs, err := parseIDs("task_ids", req.TaskIDs)
	if err != nil {
		return nil, err
	}
	rule, err := req.RuleSpec.Rule()
	if err != nil {
		return nil, err
	}
	return &models.Schedule{
		Name:    strings.TrimSpace(req.Name),
		TaskIDs: taskIDs,
		Rule:    rule,
	}, nil
}

func (h *ScheduleHandler) changed() {
	if h.notifier != nil {
		h.notifier.Notify()
	}
}

// Create handles schedule creation
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}
	programID, err := primitive.ObjectIDFromHex(req.ProgramID)
	if err != nil {
		writeError(w, h.log, models.Invalid("program_id", "%q is not a valid id", req.ProgramID))
		return
	}
	schedule, err := req.schedule()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	schedule.ProgramID = programID

	if err := h.schedules.Create(r.Context(), schedule); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusCreated, schedule)
}

// Get returns one schedule
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	schedule, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// Update replaces a schedule's name, tasks and rule. A program_id in the
// body is ignored.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req scheduleRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, h.log, err)
		return
	}
	schedule, err := req.schedule()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	schedule.ID = id

	if err := h.schedules.Update(r.Context(), schedule); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, schedule)
}

// Delete soft-deletes a schedule
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.schedules.SoftDelete(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.changed()
	w.WriteHeader(http.StatusNoContent)
}
