package models

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReminderStatus is the lifecycle status of a reminder.
type ReminderStatus string

const (
	StatusUpcoming  ReminderStatus = "UPCOMING"
	StatusDueSoon   ReminderStatus = "DUE_SOON"
	StatusOverdue   ReminderStatus = "OVERDUE"
	StatusCompleted ReminderStatus = "COMPLETED"
	StatusCancelled ReminderStatus = "CANCELLED"
)

// IsTerminal reports whether the status is set by an external action and
// never recomputed.
func (s ReminderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

const secondsPerDay = 24 * 60 * 60

// DayNumber returns the civil date of t as days since 1970-01-01.
func DayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
}

// DateOfDay is the inverse of DayNumber, at UTC midnight.
func DateOfDay(day int64) time.Time {
	return time.Unix(day*secondsPerDay, 0).UTC()
}

// Due is the due value of one occurrence: a calendar day for time-based
// schedules or an odometer reading for mileage-based ones. The zero value
// is not a valid due.
type Due struct {
	kind  RuleKind
	value int64
}

// DueOnDay returns a time-based due on the given day number.
func DueOnDay(day int64) Due { return Due{kind: KindTime, value: day} }

// DueOnDate returns a time-based due on the civil date of t.
func DueOnDate(t time.Time) Due { return DueOnDay(DayNumber(t)) }

// DueAtMileage returns a mileage-based due at km.
func DueAtMileage(km int64) Due { return Due{kind: KindMileage, value: km} }

func (d Due) Kind() RuleKind { return d.kind }

// Value is the day number or kilometers, depending on Kind.
func (d Due) Value() int64 { return d.value }

func (d Due) IsZero() bool { return d.kind == "" }

// Date returns the due date for time-based dues.
func (d Due) Date() (time.Time, bool) {
	if d.kind != KindTime {
		return time.Time{}, false
	}
	return DateOfDay(d.value), true
}

// Mileage returns the due odometer reading for mileage-based dues.
func (d Due) Mileage() (int64, bool) {
	if d.kind != KindMileage {
		return 0, false
	}
	return d.value, true
}

func (d Due) String() string {
	if t, ok := d.Date(); ok {
		return t.Format("2006-01-02")
	}
	if km, ok := d.Mileage(); ok {
		return fmt.Sprintf("%dkm", km)
	}
	return "<none>"
}

type dueJSON struct {
	Kind    RuleKind `json:"kind"`
	Date    string   `json:"date,omitempty"`
	Mileage *int64   `json:"mileage,omitempty"`
}

func (d Due) MarshalJSON() ([]byte, error) {
	out := dueJSON{Kind: d.kind}
	if t, ok := d.Date(); ok {
		out.Date = t.Format("2006-01-02")
	}
	if km, ok := d.Mileage(); ok {
		out.Mileage = &km
	}
	return json.Marshal(out)
}

// Snapshot captures the schedule fields a reminder was generated from, so
// later schedule edits do not rewrite history.
type Snapshot struct {
	Rule    Rule
	TaskIDs []primitive.ObjectID
}

// Equal reports whether two snapshots carry the same rule and tasks.
func (s Snapshot) Equal(o Snapshot) bool {
	if !specEqual(SpecOf(s.Rule), SpecOf(o.Rule)) {
		return false
	}
	if len(s.TaskIDs) != len(o.TaskIDs) {
		return false
	}
	for i := range s.TaskIDs {
		if s.TaskIDs[i] != o.TaskIDs[i] {
			return false
		}
	}
	return true
}

func specEqual(a, b RuleSpec) bool {
	if a.AnchorDate != nil && b.AnchorDate != nil {
		if !a.AnchorDate.Equal(*b.AnchorDate) {
			return false
		}
	} else if a.AnchorDate != b.AnchorDate {
		return false
	}
	if a.AnchorMileage != nil && b.AnchorMileage != nil {
		if *a.AnchorMileage != *b.AnchorMileage {
			return false
		}
	} else if a.AnchorMileage != b.AnchorMileage {
		return false
	}
	a.AnchorDate, b.AnchorDate = nil, nil
	a.AnchorMileage, b.AnchorMileage = nil, nil
	return a == b
}

// SnapshotOf captures the current fields of a schedule.
func SnapshotOf(s *Schedule) Snapshot {
	tasks := make([]primitive.ObjectID, len(s.TaskIDs))
	copy(tasks, s.TaskIDs)
	return Snapshot{Rule: s.Rule, TaskIDs: tasks}
}

// Reminder is one maintenance occurrence for one vehicle and schedule.
type Reminder struct {
	ID          primitive.ObjectID
	VehicleID   primitive.ObjectID
	ScheduleID  primitive.ObjectID
	ProgramID   primitive.ObjectID
	Due         Due
	Status      ReminderStatus
	WorkOrderID *primitive.ObjectID
	Snapshot    Snapshot
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// IsFinal reports whether the reminder is history rather than live state:
// completed, cancelled or attached to a work order. Final reminders are
// never mutated or deleted by reconciliation.
func (r *Reminder) IsFinal() bool {
	return r.Status.IsTerminal() || r.WorkOrderID != nil
}

// Pair returns the (vehicle, schedule) pair the reminder belongs to.
func (r *Reminder) Pair() PairKey {
	return PairKey{VehicleID: r.VehicleID, ScheduleID: r.ScheduleID}
}

type reminderJSON struct {
	ID          primitive.ObjectID   `json:"id"`
	VehicleID   primitive.ObjectID   `json:"vehicle_id"`
	ScheduleID  primitive.ObjectID   `json:"schedule_id"`
	ProgramID   primitive.ObjectID   `json:"program_id"`
	Due         Due                  `json:"due"`
	Status      ReminderStatus       `json:"status"`
	WorkOrderID *primitive.ObjectID  `json:"work_order_id,omitempty"`
	Final       bool                 `json:"final"`
	Rule        RuleSpec             `json:"snapshot_rule"`
	TaskIDs     []primitive.ObjectID `json:"snapshot_task_ids"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

func (r Reminder) MarshalJSON() ([]byte, error) {
	return json.Marshal(reminderJSON{
		ID:          r.ID,
		VehicleID:   r.VehicleID,
		ScheduleID:  r.ScheduleID,
		ProgramID:   r.ProgramID,
		Due:         r.Due,
		Status:      r.Status,
		WorkOrderID: r.WorkOrderID,
		Final:       r.IsFinal(),
		Rule:        SpecOf(r.Snapshot.Rule),
		TaskIDs:     r.Snapshot.TaskIDs,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	})
}

// PairKey identifies one (vehicle, schedule) pair.
type PairKey struct {
	VehicleID  primitive.ObjectID `bson:"vehicle_id" json:"vehicle_id"`
	ScheduleID primitive.ObjectID `bson:"schedule_id" json:"schedule_id"`
}

func (p PairKey) String() string {
	return p.VehicleID.Hex() + "/" + p.ScheduleID.Hex()
}
