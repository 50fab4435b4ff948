// Package recurrence computes maintenance occurrences for a schedule.
//
// Everything here is pure: the current date and odometer reading are passed
// in explicitly, so results depend only on the arguments.
package recurrence
