package recurrence

import (
	"fmt"
	"math"
	"time"

	"github.com/ukydev/fleet-reminders/internal/models"
)

// State is the vehicle state occurrences are computed against.
type State struct {
	Today    time.Time
	Odometer int64
}

// Occurrence is one computed due value with its status.
type Occurrence struct {
	Due    models.Due
	Status models.ReminderStatus
}

// params is a rule reduced to integers in a single domain.
type params struct {
	kind     models.RuleKind
	anchor   int64
	interval int64
	buffer   int64
	now      int64
}

func paramsOf(rule models.Rule, state State) (params, error) {
	switch r := rule.(type) {
	case models.TimeRule:
		today := models.DayNumber(state.Today)
		anchor := today
		if r.Anchor != nil {
			anchor = models.DayNumber(*r.Anchor)
		}
		return params{
			kind:     models.KindTime,
			anchor:   anchor,
			interval: r.Interval.Days(),
			buffer:   r.Buffer.Days(),
			now:      today,
		}, nil
	case models.MileageRule:
		if state.Odometer < 0 || state.Odometer > models.MaxDistanceKm {
			return params{}, fmt.Errorf("odometer %d out of range", state.Odometer)
		}
		anchor := state.Odometer + r.Interval
		if r.Anchor != nil {
			anchor = *r.Anchor
		}
		return params{
			kind:     models.KindMileage,
			anchor:   anchor,
			interval: r.Interval,
			buffer:   r.Buffer,
			now:      state.Odometer,
		}, nil
	default:
		return params{}, fmt.Errorf("unsupported rule %T", rule)
	}
}

func (p params) due(v int64) models.Due {
	if p.kind == models.KindTime {
		return models.DueOnDay(v)
	}
	return models.DueAtMileage(v)
}

// Generate returns every overdue and due-soon occurrence of the rule followed
// by exactly one upcoming occurrence, in ascending order, each one interval
// after the previous.
func Generate(rule models.Rule, state State) ([]Occurrence, error) {
	if err := models.ValidateRule(rule); err != nil {
		return nil, err
	}
	p, err := paramsOf(rule, state)
	if err != nil {
		return nil, err
	}

	var out []Occurrence
	for v := p.anchor; ; v += p.interval {
		status := Classify(v, p.now, p.buffer)
		out = append(out, Occurrence{Due: p.due(v), Status: status})
		if status == models.StatusUpcoming {
			return out, nil
		}
		if v > math.MaxInt64-p.interval {
			return nil, fmt.Errorf("occurrence after %d overflows", v)
		}
	}
}
