package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"lti-booking/internal/domain/booking"
	serviceInterfaces "lti-booking/internal/interfaces/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reserve writes an active reservation without going through the pipeline.
func (f *fixture) reserve(slot *booking.Slot, userID string, group *booking.Group) *booking.Reservation {
	f.t.Helper()
	res := &booking.Reservation{SlotID: slot.ID, UserID: userID, UserName: "Student " + userID, CreatedAt: testNow}
	if group != nil {
		res.GroupID = &group.ID
		res.GroupName = group.Name
	}
	d, err := f.store.Reservations().Reserve(context.Background(), res, func(*booking.SlotSnapshot) booking.Decision {
		return booking.Admit()
	})
	require.NoError(f.t, err)
	require.True(f.t, d.Admitted)
	return res
}

func createdJob(res *booking.Reservation) booking.NotificationJob {
	return booking.NotificationJob{
		ID:            uuid.New(),
		Kind:          booking.JobReservationCreated,
		ReservationID: res.ID,
		SlotID:        res.SlotID,
		SenderUserID:  res.UserID,
		SenderDomain:  "lms.example.edu",
		EnqueuedAt:    testNow,
	}
}

func recipientsOf(t *testing.T, entry *booking.MessageLog) []string {
	t.Helper()
	var out []string
	require.NoError(t, json.Unmarshal(entry.Recipients, &out))
	return out
}

func TestNotification_MissingTemplateSkipsDispatch(t *testing.T) {
	f := newFixture(t)
	f.removeTemplate(booking.ScenarioIndividualDone)
	course := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)

	r, err := f.svc.CreateReservation(context.Background(), student("u1", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	assert.True(t, r.Success)

	assert.Empty(t, f.gateway.messages())
	assert.Empty(t, f.logs(slot.ID))
}

func TestNotification_CourseOverrideWinsOverTemplate(t *testing.T) {
	f := newFixture(t)
	f.removeTemplate(booking.ScenarioIndividualDone)
	course := f.course(func(c *booking.Course) {
		c.MessageConfirmation = "Hi {user_name}, {robot_name} saved your seat. {unknown} stays. Policy {cancellation_policy_hours}h."
	})
	slot := f.slot(course, 2, 48*time.Hour)
	res := f.reserve(slot, "u1", nil)

	require.NoError(t, f.notifier.HandleNotification(context.Background(), createdJob(res)))

	sent := f.gateway.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi Student u1, Booking Bot saved your seat. {unknown} stays. Policy 24h.", sent[0].Req.Body)
	assert.Equal(t, course.LMSCourseID, sent[0].Req.ContextID)
}

func TestNotification_CcInstructorIsSeparateDispatch(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.MessageCcInstructor = true })
	slot := f.slot(course, 2, 48*time.Hour)
	res := f.reserve(slot, "u1", nil)

	require.NoError(t, f.notifier.HandleNotification(context.Background(), createdJob(res)))

	logs := f.logs(slot.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, []string{"u1"}, recipientsOf(t, logs[0]))
	assert.Equal(t, []string{"900"}, recipientsOf(t, logs[1]))
	assert.Equal(t, "[cc] Reservation confirmed: Compilers", logs[1].Subject)
	assert.Equal(t, logs[0].Body, logs[1].Body)
	assert.True(t, logs[1].Success)
}

func TestNotification_FailureDoesNotStopLaterDispatches(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.MessageCcInstructor = true })
	slot := f.slot(course, 2, 48*time.Hour)
	res := f.reserve(slot, "u1", nil)
	f.gateway.failFor["u1"] = errors.New("403 forbidden")

	err := f.notifier.HandleNotification(context.Background(), createdJob(res))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 notification dispatch(es) failed")

	logs := f.logs(slot.ID)
	require.Len(t, logs, 2)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "403 forbidden", *logs[0].ErrorMessage)
	assert.True(t, logs[1].Success)
	assert.Nil(t, logs[1].ErrorMessage)
}

func TestNotification_FullGroupSlotBroadcastsToEveryGroup(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) {
		c.CapacityType = booking.CapacityGroup
		c.MessageAllWhenFull = true
	})
	slot := f.slot(course, 2, 48*time.Hour)
	f.groups.byUser["a"] = []booking.Group{{ID: "1", Name: "Team One"}}
	f.groups.byUser["b"] = []booking.Group{{ID: "2", Name: "Team Two"}}

	r, err := f.svc.CreateReservation(context.Background(), student("a", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, r.Success)
	require.Len(t, f.logs(slot.ID), 1, "no broadcast while the slot has room")

	r, err = f.svc.CreateReservation(context.Background(), student("b", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, r.Success)

	var full []string
	for _, entry := range f.logs(slot.ID) {
		if entry.Scenario == string(booking.ScenarioGroupFull) {
			full = append(full, recipientsOf(t, entry)...)
			assert.Equal(t, "Slot fully booked: Compilers", entry.Subject)
			assert.Equal(t, "The slot for Compilers is now full.", entry.Body)
		}
	}
	sort.Strings(full)
	assert.Equal(t, []string{"group_1", "group_2"}, full)
	assert.Len(t, f.logs(slot.ID), 4)
}

func TestNotification_FullBroadcastCcsInstructorOnce(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) {
		c.CapacityType = booking.CapacityGroup
		c.MessageAllWhenFull = true
		c.MessageCcInstructor = true
	})
	slot := f.slot(course, 1, 48*time.Hour)
	res := f.reserve(slot, "a", &booking.Group{ID: "1", Name: "Team One"})

	job := createdJob(res)
	job.FilledSlot = true
	require.NoError(t, f.notifier.HandleNotification(context.Background(), job))

	var scenarios []string
	for _, entry := range f.logs(slot.ID) {
		scenarios = append(scenarios, entry.Scenario+" "+recipientsOf(t, entry)[0])
	}
	assert.Equal(t, []string{
		"reservation_group_done group_1",
		"reservation_group_done 900",
		"reservation_group_full group_1",
		"reservation_group_full 900",
	}, scenarios)
}

func TestNotification_CancelledGroupReservation(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) {
		c.CapacityType = booking.CapacityGroup
		c.MessageAllWhenFull = true
	})
	slot := f.slot(course, 1, 48*time.Hour)
	res := f.reserve(slot, "a", &booking.Group{ID: "1", Name: "Team One"})

	job := createdJob(res)
	job.Kind = booking.JobReservationCancelled
	require.NoError(t, f.notifier.HandleNotification(context.Background(), job))

	logs := f.logs(slot.ID)
	require.Len(t, logs, 1, "cancellations never broadcast")
	assert.Equal(t, string(booking.ScenarioGroupCanceled), logs[0].Scenario)
	assert.Equal(t, "Group Team One cancelled Compilers.", logs[0].Body)
}

func TestNotification_QueuedJobsBroadcastFullOnce(t *testing.T) {
	f := newFixture(t)
	queued := f.deferNotifications()
	course := f.course(func(c *booking.Course) {
		c.CapacityType = booking.CapacityGroup
		c.MessageAllWhenFull = true
	})
	slot := f.slot(course, 2, 48*time.Hour)
	f.groups.byUser["a"] = []booking.Group{{ID: "1", Name: "Team One"}}
	f.groups.byUser["b"] = []booking.Group{{ID: "2", Name: "Team Two"}}

	for _, user := range []string{"a", "b"} {
		r, err := f.svc.CreateReservation(context.Background(), student(user, course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
		require.NoError(t, err)
		require.True(t, r.Success)
	}

	jobs := queued.drain()
	require.Len(t, jobs, 2)
	assert.False(t, jobs[0].FilledSlot)
	assert.True(t, jobs[1].FilledSlot)

	// both jobs run after the slot is already full
	for _, job := range jobs {
		require.NoError(t, f.notifier.HandleNotification(context.Background(), job))
	}

	var full []string
	for _, entry := range f.logs(slot.ID) {
		if entry.Scenario == string(booking.ScenarioGroupFull) {
			full = append(full, recipientsOf(t, entry)...)
		}
	}
	sort.Strings(full)
	assert.Equal(t, []string{"group_1", "group_2"}, full)
}

func TestNotification_NoConfirmationAfterCancel(t *testing.T) {
	f := newFixture(t)
	queued := f.deferNotifications()
	course := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)
	actor := student("u1", course)

	r, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, r.Success)
	c, err := f.svc.CancelReservation(context.Background(), actor, *r.ReservationID)
	require.NoError(t, err)
	require.True(t, c.Success)

	jobs := queued.drain()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.NoError(t, f.notifier.HandleNotification(context.Background(), job))
	}

	logs := f.logs(slot.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, string(booking.ScenarioIndividualCanceled), logs[0].Scenario)
	assert.Len(t, f.gateway.messages(), 1)
}

func TestNotification_UnknownReservation(t *testing.T) {
	f := newFixture(t)
	err := f.notifier.HandleNotification(context.Background(), booking.NotificationJob{ReservationID: uuid.New()})
	assert.ErrorIs(t, err, booking.ErrReservationNotFound)
}

func TestPrimaryScenario(t *testing.T) {
	group := "g"
	individual := &booking.Reservation{}
	grouped := &booking.Reservation{GroupID: &group}

	assert.Equal(t, booking.ScenarioIndividualDone, primaryScenario(booking.JobReservationCreated, individual))
	assert.Equal(t, booking.ScenarioGroupDone, primaryScenario(booking.JobReservationCreated, grouped))
	assert.Equal(t, booking.ScenarioIndividualCanceled, primaryScenario(booking.JobReservationCancelled, individual))
	assert.Equal(t, booking.ScenarioGroupCanceled, primaryScenario(booking.JobReservationCancelled, grouped))
}
