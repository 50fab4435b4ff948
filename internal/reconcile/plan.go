package reconcile

import (
	"github.com/ukydev/fleet-reminders/internal/models"
	"github.com/ukydev/fleet-reminders/internal/recurrence"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Plan is the minimal set of writes that makes a pair's persisted reminders
// match its desired occurrences.
type Plan struct {
	Create []models.Reminder
	Update []models.Reminder
	Delete []primitive.ObjectID
}

// Empty reports whether the plan has no writes.
func (p Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

type dueGroup struct {
	final    bool
	nonFinal []models.Reminder
}

// Diff compares existing reminders of one pair with the desired occurrences.
// Final reminders never appear in the plan. A desired occurrence whose due
// value is already held by a final reminder is considered satisfied.
func Diff(pair models.PairKey, schedule *models.Schedule, existing []models.Reminder, desired []recurrence.Occurrence) Plan {
	var plan Plan

	groups := make(map[models.Due]*dueGroup, len(existing))
	var order []models.Due
	for _, r := range existing {
		g, ok := groups[r.Due]
		if !ok {
			g = &dueGroup{}
			groups[r.Due] = g
			order = append(order, r.Due)
		}
		if r.IsFinal() {
			g.final = true
		} else {
			g.nonFinal = append(g.nonFinal, r)
		}
	}

	// Rows sharing a due value with a kept row are redundant.
	for _, due := range order {
		g := groups[due]
		keep := 1
		if g.final {
			keep = 0
		}
		for i := keep; i < len(g.nonFinal); i++ {
			plan.Delete = append(plan.Delete, g.nonFinal[i].ID)
		}
	}

	snapshot := models.SnapshotOf(schedule)
	wanted := make(map[models.Due]bool, len(desired))
	for _, occ := range desired {
		wanted[occ.Due] = true
		g, ok := groups[occ.Due]
		switch {
		case !ok:
			plan.Create = append(plan.Create, models.Reminder{
				VehicleID:  pair.VehicleID,
				ScheduleID: pair.ScheduleID,
				ProgramID:  schedule.ProgramID,
				Due:        occ.Due,
				Status:     occ.Status,
				Snapshot:   snapshot,
			})
		case g.final:
		default:
			row := g.nonFinal[0]
			if row.Status != occ.Status {
				row.Status = occ.Status
				plan.Update = append(plan.Update, row)
			}
		}
	}

	for _, due := range order {
		if wanted[due] {
			continue
		}
		g := groups[due]
		if !g.final && len(g.nonFinal) > 0 {
			plan.Delete = append(plan.Delete, g.nonFinal[0].ID)
		}
	}

	return plan
}

// pinAnchor fixes a missing anchor to the earliest existing reminder of the
// same kind, so an unanchored series keeps its position instead of moving
// with the current date or odometer.
func pinAnchor(rule models.Rule, existing []models.Reminder) models.Rule {
	earliest, ok := earliestDue(rule.Kind(), existing)
	if !ok {
		return rule
	}
	switch r := rule.(type) {
	case models.TimeRule:
		if r.Anchor == nil {
			t := models.DateOfDay(earliest)
			r.Anchor = &t
		}
		return r
	case models.MileageRule:
		if r.Anchor == nil {
			r.Anchor = &earliest
		}
		return r
	}
	return rule
}

func earliestDue(kind models.RuleKind, existing []models.Reminder) (int64, bool) {
	var (
		min   int64
		found bool
	)
	for _, r := range existing {
		if r.Due.Kind() != kind {
			continue
		}
		if !found || r.Due.Value() < min {
			min = r.Due.Value()
			found = true
		}
	}
	return min, found
}
