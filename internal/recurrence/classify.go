package recurrence

import "github.com/ukydev/fleet-reminders/internal/models"

// Classify maps a due value against now and the buffer, all in the same
// domain (day numbers or kilometers). A due value equal to now is overdue.
// The distance from now is taken without overflow.
func Classify(due, now, buffer int64) models.ReminderStatus {
	switch {
	case due <= now:
		return models.StatusOverdue
	case buffer >= 0 && uint64(due)-uint64(now) <= uint64(buffer):
		return models.StatusDueSoon
	default:
		return models.StatusUpcoming
	}
}
