package models

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RuleKind tags the two recurrence variants. Reminders carry the same tag on
// their due value.
type RuleKind string

const (
	KindTime    RuleKind = "TIME"
	KindMileage RuleKind = "MILEAGE"
)

// Unit is an elapsed-time unit for time-based schedules.
type Unit string

const (
	UnitDays   Unit = "DAYS"
	UnitWeeks  Unit = "WEEKS"
	UnitMonths Unit = "MONTHS"
	UnitYears  Unit = "YEARS"
)

// Days returns the length of one unit in whole days. Months and years use
// fixed lengths so interval arithmetic stays exact.
func (u Unit) Days() (int64, bool) {
	switch u {
	case UnitDays:
		return 1, true
	case UnitWeeks:
		return 7, true
	case UnitMonths:
		return 30, true
	case UnitYears:
		return 365, true
	default:
		return 0, false
	}
}

const (
	// MaxSpanDays bounds time intervals and buffers (100 years).
	MaxSpanDays = 100 * 365
	// MaxDistanceKm bounds mileage intervals, buffers, anchors and odometer
	// readings.
	MaxDistanceKm = 1_000_000_000

	minAnchorYear = 1900
	maxAnchorYear = 9999
)

// Span is a value in a time unit, e.g. 8 WEEKS.
type Span struct {
	Value int64 `json:"value" bson:"value"`
	Unit  Unit  `json:"unit" bson:"unit"`
}

// Days normalizes the span to days. Unknown units yield 0.
func (s Span) Days() int64 {
	d, _ := s.Unit.Days()
	return s.Value * d
}

func (s Span) validate(field string) error {
	d, ok := s.Unit.Days()
	if !ok {
		return Invalid(field+"_unit", "unknown unit %q", s.Unit)
	}
	if s.Value <= 0 {
		return Invalid(field+"_value", "must be positive")
	}
	if limit := MaxSpanDays / d; s.Value > limit {
		return Invalid(field+"_value", "must be at most %d %s", limit, s.Unit)
	}
	return nil
}

// Rule is the recurrence of a schedule. Only TimeRule and MileageRule
// implement it.
type Rule interface {
	Kind() RuleKind
	validate() error
	isRule()
}

// TimeRule recurs every Interval of elapsed time starting at Anchor.
type TimeRule struct {
	Interval Span
	Buffer   Span
	Anchor   *time.Time
}

func (TimeRule) Kind() RuleKind { return KindTime }
func (TimeRule) isRule()        {}

func (r TimeRule) validate() error {
	if err := r.Interval.validate("interval"); err != nil {
		return err
	}
	if err := r.Buffer.validate("buffer"); err != nil {
		return err
	}
	if r.Anchor != nil {
		if y := r.Anchor.Year(); y < minAnchorYear || y > maxAnchorYear {
			return Invalid("anchor_date", "year must be between %d and %d", minAnchorYear, maxAnchorYear)
		}
	}
	return nil
}

// MileageRule recurs every Interval kilometers starting at Anchor.
type MileageRule struct {
	Interval int64
	Buffer   int64
	Anchor   *int64
}

func (MileageRule) Kind() RuleKind { return KindMileage }
func (MileageRule) isRule()        {}

func (r MileageRule) validate() error {
	if r.Interval <= 0 {
		return Invalid("interval_distance", "must be positive")
	}
	if r.Buffer <= 0 {
		return Invalid("buffer_distance", "must be positive")
	}
	if r.Interval > MaxDistanceKm {
		return Invalid("interval_distance", "must be at most %d", MaxDistanceKm)
	}
	if r.Buffer > MaxDistanceKm {
		return Invalid("buffer_distance", "must be at most %d", MaxDistanceKm)
	}
	if r.Anchor != nil && (*r.Anchor < 0 || *r.Anchor > MaxDistanceKm) {
		return Invalid("anchor_mileage", "must be between 0 and %d", MaxDistanceKm)
	}
	return nil
}

// ValidateRule checks a rule's interval, buffer and units.
func ValidateRule(r Rule) error {
	if r == nil {
		return Invalid("type", "schedule has neither time nor mileage fields")
	}
	return r.validate()
}

// RuleSpec is the flat wire and storage shape of a Rule. Exactly one of the
// time or mileage halves may be populated.
type RuleSpec struct {
	Type RuleKind `json:"type" bson:"type"`

	IntervalValue int64      `json:"interval_value,omitempty" bson:"interval_value,omitempty"`
	IntervalUnit  Unit       `json:"interval_unit,omitempty" bson:"interval_unit,omitempty"`
	BufferValue   int64      `json:"buffer_value,omitempty" bson:"buffer_value,omitempty"`
	BufferUnit    Unit       `json:"buffer_unit,omitempty" bson:"buffer_unit,omitempty"`
	AnchorDate    *time.Time `json:"anchor_date,omitempty" bson:"anchor_date,omitempty"`

	IntervalDistance int64  `json:"interval_distance,omitempty" bson:"interval_distance,omitempty"`
	BufferDistance   int64  `json:"buffer_distance,omitempty" bson:"buffer_distance,omitempty"`
	AnchorMileage    *int64 `json:"anchor_mileage,omitempty" bson:"anchor_mileage,omitempty"`
}

func (s RuleSpec) hasTime() bool {
	return s.IntervalValue != 0 || s.IntervalUnit != "" || s.BufferValue != 0 ||
		s.BufferUnit != "" || s.AnchorDate != nil
}

func (s RuleSpec) hasMileage() bool {
	return s.IntervalDistance != 0 || s.BufferDistance != 0 || s.AnchorMileage != nil
}

// Rule converts s into a validated Rule.
func (s RuleSpec) Rule() (Rule, error) {
	t, m := s.hasTime(), s.hasMileage()
	switch {
	case t && m:
		return nil, Invalid("type", "schedule has both time and mileage fields")
	case !t && !m:
		return nil, Invalid("type", "schedule has neither time nor mileage fields")
	}

	var r Rule
	if t {
		r = TimeRule{
			Interval: Span{Value: s.IntervalValue, Unit: s.IntervalUnit},
			Buffer:   Span{Value: s.BufferValue, Unit: s.BufferUnit},
			Anchor:   s.AnchorDate,
		}
	} else {
		r = MileageRule{
			Interval: s.IntervalDistance,
			Buffer:   s.BufferDistance,
			Anchor:   s.AnchorMileage,
		}
	}
	if s.Type != "" && s.Type != r.Kind() {
		return nil, Invalid("type", "type %s does not match populated %s fields", s.Type, r.Kind())
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// SpecOf flattens a rule for the wire or storage.
func SpecOf(r Rule) RuleSpec {
	switch rule := r.(type) {
	case TimeRule:
		return RuleSpec{
			Type:          KindTime,
			IntervalValue: rule.Interval.Value,
			IntervalUnit:  rule.Interval.Unit,
			BufferValue:   rule.Buffer.Value,
			BufferUnit:    rule.Buffer.Unit,
			AnchorDate:    rule.Anchor,
		}
	case MileageRule:
		return RuleSpec{
			Type:             KindMileage,
			IntervalDistance: rule.Interval,
			BufferDistance:   rule.Buffer,
			AnchorMileage:    rule.Anchor,
		}
	default:
		return RuleSpec{}
	}
}

// Program is a maintenance program owning schedules. Vehicles are assigned
// to programs.
type Program struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	IsActive  bool               `bson:"is_active" json:"is_active"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// Schedule is a recurrence rule owned by a program, referencing the tasks to
// perform at each occurrence.
type Schedule struct {
	ID        primitive.ObjectID
	ProgramID primitive.ObjectID
	Name      string
	IsActive  bool
	TaskIDs   []primitive.ObjectID
	Rule      Rule
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the schedule's ownership and recurrence.
func (s *Schedule) Validate() error {
	if s.ProgramID.IsZero() {
		return Invalid("program_id", "is required")
	}
	return ValidateRule(s.Rule)
}

// ScheduleDocument is the JSON shape of a schedule.
type ScheduleDocument struct {
	ID        primitive.ObjectID   `json:"id"`
	ProgramID primitive.ObjectID   `json:"program_id"`
	Name      string               `json:"name"`
	IsActive  bool                 `json:"is_active"`
	TaskIDs   []primitive.ObjectID `json:"task_ids"`
	RuleSpec
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ScheduleDocument{
		ID:        s.ID,
		ProgramID: s.ProgramID,
		Name:      s.Name,
		IsActive:  s.IsActive,
		TaskIDs:   s.TaskIDs,
		RuleSpec:  SpecOf(s.Rule),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	})
}
