package dbtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newPair() models.PairKey {
	return models.PairKey{VehicleID: primitive.NewObjectID(), ScheduleID: primitive.NewObjectID()}
}

func reminderFor(pair models.PairKey, day int64) *models.Reminder {
	return &models.Reminder{
		VehicleID:  pair.VehicleID,
		ScheduleID: pair.ScheduleID,
		Due:        models.DueOnDay(day),
		Status:     models.StatusUpcoming,
	}
}

func TestWithTransaction_DifferentPairsOverlap(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := newPair(), newPair()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.FindRemindersForPair(ctx, a); err != nil {
				return err
			}
			close(entered)
			<-release
			_, err := s.InsertReminderIfAbsent(ctx, reminderFor(a, 1))
			return err
		})
	}()
	<-entered

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.InsertReminderIfAbsent(ctx, reminderFor(b, 1))
		return err
	})
	require.NoError(t, err, "a transaction on another pair completes while the first is open")

	blocked := make(chan struct{})
	go func() {
		_ = s.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := s.FindRemindersForPair(ctx, a)
			return err
		})
		close(blocked)
	}()
	select {
	case <-blocked:
		t.Fatal("a transaction on the same pair must wait")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("waiting transaction never ran")
	}
	assert.Len(t, s.Reminders(), 2)
}

func TestWithTransaction_RollsBackOnlyItsOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := newPair(), newPair()
	kept := s.PutReminder(*reminderFor(a, 1))
	gone := s.PutReminder(*reminderFor(a, 2))

	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.InsertReminderIfAbsent(ctx, reminderFor(b, 1))
		return err
	}))

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.DeleteReminderIfNonFinal(ctx, gone.ID); err != nil {
			return err
		}
		changed := kept
		changed.Status = models.StatusDueSoon
		if _, err := s.UpdateReminderIfNonFinal(ctx, &changed); err != nil {
			return err
		}
		if _, err := s.InsertReminderIfAbsent(ctx, reminderFor(a, 3)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	all := s.Reminders()
	require.Len(t, all, 3)
	got, err := s.FindReminderByID(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUpcoming, got.Status)
	_, err = s.FindReminderByID(ctx, gone.ID)
	assert.NoError(t, err)
	for _, r := range all {
		assert.NotEqual(t, models.DueOnDay(3), r.Due)
	}
}
