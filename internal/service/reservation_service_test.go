package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/cache"
	serviceInterfaces "lti-booking/internal/interfaces/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReservation_AdmitsAndNotifies(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)

	result, err := f.svc.CreateReservation(context.Background(), student("u1", course), &serviceInterfaces.CreateReservationRequest{
		SlotID:  slot.ID,
		Message: "  question about lab 2  ",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.ReservationID)

	res, err := f.store.Reservations().GetByID(context.Background(), *result.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, "question about lab 2", res.Message)
	assert.Equal(t, course.ID, res.CourseID)
	assert.True(t, res.IsActive())

	sent := f.gateway.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"u1"}, sent[0].Req.Recipients)
	assert.Equal(t, "Reservation confirmed: Compilers", sent[0].Req.Subject)
	assert.Equal(t, "Hello Student u1, you booked Compilers on Wednesday, 12 March 2025 at 09:00.", sent[0].Req.Body)
	assert.Equal(t, "u1", sent[0].Owner.UserID)

	logs := f.logs(slot.ID)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, string(booking.ScenarioIndividualDone), logs[0].Scenario)
	assert.Equal(t, *result.ReservationID, *logs[0].ReservationID)
	var recipients []string
	require.NoError(t, json.Unmarshal(logs[0].Recipients, &recipients))
	assert.Equal(t, []string{"u1"}, recipients)
}

func TestCreateReservation_LastSeatUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.MaxPerType = 0 })
	slot := f.slot(course, 1, 48*time.Hour)

	const bookers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*serviceInterfaces.ReservationResult
	)
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.svc.CreateReservation(context.Background(), student(fmt.Sprintf("u%d", i), course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, r := range results {
		if r.Success {
			admitted++
			continue
		}
		assert.Equal(t, booking.SlotFull, r.Reason)
	}
	assert.Equal(t, 1, admitted)

	active, err := f.store.Reservations().ListActiveBySlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCreateReservation_SecondBookingSameUser(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.MaxPerType = 5 })
	slot := f.slot(course, 3, 48*time.Hour)
	actor := student("u1", course)

	first, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, booking.AlreadyReservedThisSlot, second.Reason)
	assert.Nil(t, second.ReservationID)
}

func TestCreateReservation_CourseCapAcrossSlots(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	first := f.slot(course, 2, 48*time.Hour)
	other := f.slot(course, 2, 72*time.Hour)
	actor := student("u1", course)

	r, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: first.ID})
	require.NoError(t, err)
	require.True(t, r.Success)

	r, err = f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, booking.CourseTypeCapReached, r.Reason)
}

func TestCreateReservation_Rejections(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	mandatory := f.course(func(c *booking.Course) { c.MessageIsMandatory = true })
	future := f.slot(course, 2, 48*time.Hour)
	past := f.slot(course, 2, -time.Hour)
	mandatorySlot := f.slot(mandatory, 2, 48*time.Hour)

	staff := student("t1", course)
	staff.Roles = booking.RoleInstructor

	tests := []struct {
		name   string
		actor  booking.Actor
		req    serviceInterfaces.CreateReservationRequest
		reason booking.Reason
	}{
		{"instructor cannot book", staff, serviceInterfaces.CreateReservationRequest{SlotID: future.ID}, booking.RoleNotBookable},
		{"slot already started", student("u1", course), serviceInterfaces.CreateReservationRequest{SlotID: past.ID}, booking.TimeInPast},
		{"blank mandatory message", student("u2", mandatory), serviceInterfaces.CreateReservationRequest{SlotID: mandatorySlot.ID, Message: "   "}, booking.MessageRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := f.svc.CreateReservation(context.Background(), tt.actor, &tt.req)
			require.NoError(t, err)
			assert.False(t, r.Success)
			assert.Equal(t, tt.reason, r.Reason)
			assert.Equal(t, tt.reason.Message(), r.Message)
		})
	}

	assert.Empty(t, f.gateway.messages())
}

func TestCreateReservation_UnknownSlotAndForeignCourse(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)

	_, err := f.svc.CreateReservation(context.Background(), student("u1", course), &serviceInterfaces.CreateReservationRequest{SlotID: uuid.New()})
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)

	outsider := student("u1", course)
	outsider.LMSCourseID = "other-course"
	_, err = f.svc.CreateReservation(context.Background(), outsider, &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	assert.ErrorIs(t, err, booking.ErrForbidden)
}

func TestCreateReservation_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)
	f.gateway.failFor["u1"] = errors.New("lms unavailable")

	r, err := f.svc.CreateReservation(context.Background(), student("u1", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	assert.True(t, r.Success)

	logs := f.logs(slot.ID)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Contains(t, *logs[0].ErrorMessage, "lms unavailable")
}

func TestCreateReservation_QueueFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)
	svc := NewReservationService(f.store.Slots(), f.store.Courses(), f.store.Reservations(), f.store.MessageLogs(),
		f.groups, failingQueue{}, cache.NoopCache{}).WithClock(fixedClock)

	r, err := svc.CreateReservation(context.Background(), student("u1", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Empty(t, f.logs(slot.ID))
}

func TestCreateReservation_GroupSlot(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.CapacityType = booking.CapacityGroup })
	slot := f.slot(course, 3, 48*time.Hour)

	f.groups.byUser["solo"] = []booking.Group{{ID: "7", Name: "Team Seven"}}
	f.groups.byUser["multi"] = []booking.Group{{ID: "8", Name: "Team Eight"}, {ID: "9", Name: "Team Nine"}}

	r, err := f.svc.CreateReservation(context.Background(), student("solo", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, r.Success)
	res, _ := f.store.Reservations().GetByID(context.Background(), *r.ReservationID)
	assert.Equal(t, "7", *res.GroupID)
	assert.Equal(t, "Team Seven", res.GroupName)
	assert.Equal(t, []string{"group_7"}, f.gateway.messages()[0].Req.Recipients)

	r, err = f.svc.CreateReservation(context.Background(), student("multi", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	assert.Equal(t, booking.NotInGroup, r.Reason)

	r, err = f.svc.CreateReservation(context.Background(), student("multi", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID, GroupID: "42"})
	require.NoError(t, err)
	assert.Equal(t, booking.NotInGroup, r.Reason)

	r, err = f.svc.CreateReservation(context.Background(), student("multi", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID, GroupID: "9"})
	require.NoError(t, err)
	assert.True(t, r.Success)

	r, err = f.svc.CreateReservation(context.Background(), student("nobody", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	assert.Equal(t, booking.NotInGroup, r.Reason)
}

func TestCreateReservation_GroupLookupFailure(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.CapacityType = booking.CapacityGroup })
	slot := f.slot(course, 3, 48*time.Hour)
	f.groups.err = errors.New("reauthenticate")

	_, err := f.svc.CreateReservation(context.Background(), student("u1", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	assert.Error(t, err)

	active, _ := f.store.Reservations().ListActiveBySlot(context.Background(), slot.ID)
	assert.Empty(t, active)
}

func TestCancelReservation_OnceOnly(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	slot := f.slot(course, 1, 48*time.Hour)
	actor := student("u1", course)

	r, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)

	first, err := f.svc.CancelReservation(context.Background(), actor, *r.ReservationID)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := f.svc.CancelReservation(context.Background(), actor, *r.ReservationID)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, booking.NotCancelable, second.Reason)

	// the seat is free again exactly once
	other, err := f.svc.CreateReservation(context.Background(), student("u2", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	assert.True(t, other.Success)

	logs := f.logs(slot.ID)
	require.Len(t, logs, 3)
	assert.Equal(t, string(booking.ScenarioIndividualCanceled), logs[1].Scenario)
	assert.Equal(t, "Reservation cancelled: Compilers", logs[1].Subject)
}

func TestCancelReservation_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	slot := f.slot(course, 1, 48*time.Hour)
	actor := student("u1", course)

	r, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CancelReservation(context.Background(), actor, *r.ReservationID)
			assert.NoError(t, err)
			if res != nil && res.Success {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestCancelReservation_Ownership(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.CapacityType = booking.CapacityGroup })
	slot := f.slot(course, 3, 48*time.Hour)
	f.groups.byUser["booker"] = []booking.Group{{ID: "5", Name: "Team Five"}}
	f.groups.byUser["mate"] = []booking.Group{{ID: "5", Name: "Team Five"}}
	f.groups.byUser["stranger"] = []booking.Group{{ID: "6", Name: "Team Six"}}

	r, err := f.svc.CreateReservation(context.Background(), student("booker", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, r.Success)

	res, err := f.svc.CancelReservation(context.Background(), student("stranger", course), *r.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, booking.NotOwner, res.Reason)

	res, err = f.svc.CancelReservation(context.Background(), student("mate", course), *r.ReservationID)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCancelReservation_PolicyWindow(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.CancellationPolicyHours = 72 })
	slot := f.slot(course, 2, 48*time.Hour)
	actor := student("u1", course)

	r, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, r.Success)

	res, err := f.svc.CancelReservation(context.Background(), actor, *r.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, booking.NotCancelable, res.Reason)

	staff := student("t1", course)
	staff.Roles = booking.RoleInstructor
	res, err = f.svc.CancelReservation(context.Background(), staff, *r.ReservationID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = f.svc.CancelReservation(context.Background(), actor, uuid.New())
	assert.ErrorIs(t, err, booking.ErrReservationNotFound)
}

func TestMyReservations(t *testing.T) {
	f := newFixture(t)
	course := f.course(func(c *booking.Course) { c.MaxPerType = 2; c.CancellationPolicyHours = 60 })
	soon := f.slot(course, 2, 48*time.Hour)
	later := f.slot(course, 2, 96*time.Hour)
	actor := student("u1", course)

	for _, s := range []*booking.Slot{soon, later} {
		r, err := f.svc.CreateReservation(context.Background(), actor, &serviceInterfaces.CreateReservationRequest{SlotID: s.ID})
		require.NoError(t, err)
		require.True(t, r.Success)
	}

	details, err := f.svc.MyReservations(context.Background(), actor)
	require.NoError(t, err)
	require.Len(t, details, 2)

	cancelable := map[uuid.UUID]bool{}
	for _, d := range details {
		assert.Equal(t, "Compilers", d.CourseName)
		cancelable[d.Slot.ID] = d.IsCancelable
	}
	assert.False(t, cancelable[soon.ID])
	assert.True(t, cancelable[later.ID])
}

func TestSlotReservationsRequiresManager(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)

	_, err := f.svc.SlotReservations(context.Background(), student("u1", course), slot.ID)
	assert.ErrorIs(t, err, booking.ErrForbidden)

	staff := student("t1", course)
	staff.Roles = booking.RoleAdministrator
	list, err := f.svc.SlotReservations(context.Background(), staff, slot.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.SlotMessages(context.Background(), student("u1", course), slot.ID)
	assert.ErrorIs(t, err, booking.ErrForbidden)
}

func TestInstructorOfAnotherCourse(t *testing.T) {
	f := newFixture(t)
	course := f.course(nil)
	other := f.course(nil)
	slot := f.slot(course, 2, 48*time.Hour)

	r, err := f.svc.CreateReservation(context.Background(), student("u1", course), &serviceInterfaces.CreateReservationRequest{SlotID: slot.ID})
	require.NoError(t, err)
	require.True(t, r.Success)

	outsider := student("t9", other)
	outsider.Roles = booking.RoleInstructor

	_, err = f.svc.CancelReservation(context.Background(), outsider, *r.ReservationID)
	assert.ErrorIs(t, err, booking.ErrForbidden)

	_, err = f.svc.SlotReservations(context.Background(), outsider, slot.ID)
	assert.ErrorIs(t, err, booking.ErrForbidden)

	_, err = f.svc.SlotMessages(context.Background(), outsider, slot.ID)
	assert.ErrorIs(t, err, booking.ErrForbidden)

	stored, err := f.store.Reservations().GetByID(context.Background(), *r.ReservationID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())

	// the course's own instructor still reaches it
	own := student("t1", course)
	own.Roles = booking.RoleInstructor
	list, err := f.svc.SlotReservations(context.Background(), own, slot.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	res, err := f.svc.CancelReservation(context.Background(), own, *r.ReservationID)
	require.NoError(t, err)
	assert.True(t, res.Success)
}
