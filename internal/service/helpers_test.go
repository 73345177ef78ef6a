package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/cache"
	"lti-booking/internal/infrastructure/queue"
	"lti-booking/internal/infrastructure/repository"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type sentMessage struct {
	Owner interfaces.TokenOwner
	Req   booking.DispatchRequest
}

type fakeGateway struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]error
	groups  map[string][]booking.Group
	calls   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failFor: map[string]error{}, groups: map[string][]booking.Group{}}
}

func (g *fakeGateway) SendConversation(ctx context.Context, owner interfaces.TokenOwner, req booking.DispatchRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{Owner: owner, Req: req})
	for _, r := range req.Recipients {
		if err, ok := g.failFor[r]; ok {
			return err
		}
	}
	return nil
}

func (g *fakeGateway) OwnGroups(ctx context.Context, owner interfaces.TokenOwner, lmsCourseID string) ([]booking.Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.groups[owner.UserID], nil
}

func (g *fakeGateway) messages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

// fakeGroups resolves groups from a fixed table.
type fakeGroups struct {
	byUser map[string][]booking.Group
	err    error
}

func (f *fakeGroups) GroupsFor(ctx context.Context, actor booking.Actor) ([]booking.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byUser[actor.UserID], nil
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, booking.NotificationJob) error {
	return errors.New("queue unavailable")
}
func (failingQueue) SetHandler(interfaces.NotificationHandler) {}
func (failingQueue) StartWorkers()                             {}
func (failingQueue) StopWorkers()                              {}

// heldQueue keeps jobs until the test hands them to the pipeline, like the
// worker queues do when they lag behind the request path.
type heldQueue struct {
	mu   sync.Mutex
	jobs []booking.NotificationJob
}

func (q *heldQueue) Enqueue(_ context.Context, job booking.NotificationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}
func (q *heldQueue) SetHandler(interfaces.NotificationHandler) {}
func (q *heldQueue) StartWorkers()                             {}
func (q *heldQueue) StopWorkers()                              {}

func (q *heldQueue) drain() []booking.NotificationJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

type fixture struct {
	t          *testing.T
	store      *repository.MemoryStore
	gateway    *fakeGateway
	groups     *fakeGroups
	templates  string
	notifier   *NotificationService
	svc        *ReservationService
	instructor booking.Instructor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	gateway := newFakeGateway()
	groups := &fakeGroups{byUser: map[string][]booking.Group{}}
	dir := t.TempDir()

	instructor := booking.Instructor{Name: "Dr. Grace Hopper", Email: "grace@example.edu", LMSUserID: "900"}
	require.NoError(t, store.Catalog().CreateInstructor(context.Background(), &instructor))
	room := booking.Location{Name: "Lab 3"}
	require.NoError(t, store.Catalog().CreateLocation(context.Background(), &room))

	notifier := NewNotificationService(
		store.Reservations(), store.Slots(), store.Courses(), store.Catalog(), store.MessageLogs(),
		gateway, NewTemplateStore(dir), "Booking Bot",
	)
	q := queue.NewInlineQueue(time.Second)
	q.SetHandler(notifier)

	svc := NewReservationService(
		store.Slots(), store.Courses(), store.Reservations(), store.MessageLogs(),
		groups, q, cache.NoopCache{},
	).WithClock(fixedClock)

	f := &fixture{
		t:          t,
		store:      store,
		gateway:    gateway,
		groups:     groups,
		templates:  dir,
		notifier:   notifier,
		svc:        svc,
		instructor: instructor,
	}
	f.writeTemplate(booking.ScenarioIndividualDone, "Hello {user_name}, you booked {course_name} on {date} at {time_start}.")
	f.writeTemplate(booking.ScenarioIndividualCanceled, "Your reservation for {course_name} was cancelled.")
	f.writeTemplate(booking.ScenarioGroupDone, "Group {group_name} booked {course_name}.")
	f.writeTemplate(booking.ScenarioGroupCanceled, "Group {group_name} cancelled {course_name}.")
	f.writeTemplate(booking.ScenarioGroupFull, "The slot for {course_name} is now full.")
	return f
}

// deferNotifications swaps the inline queue for a heldQueue.
func (f *fixture) deferNotifications() *heldQueue {
	q := &heldQueue{}
	f.svc = NewReservationService(
		f.store.Slots(), f.store.Courses(), f.store.Reservations(), f.store.MessageLogs(),
		f.groups, q, cache.NoopCache{},
	).WithClock(fixedClock)
	return q
}

func (f *fixture) writeTemplate(scenario booking.Scenario, body string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.templates, string(scenario)+".txt"), []byte(body), 0o644))
}

func (f *fixture) removeTemplate(scenario booking.Scenario) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(filepath.Join(f.templates, string(scenario)+".txt")))
}

func (f *fixture) course(mutate func(c *booking.Course)) *booking.Course {
	f.t.Helper()
	c := &booking.Course{
		LMSCourseID:             uuid.NewString()[:8],
		Name:                    "Compilers",
		CapacityType:            booking.CapacityIndividual,
		MaxPerType:              1,
		CancellationPolicyHours: 24,
		InstructorID:            &f.instructor.ID,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(f.t, f.store.Courses().Create(context.Background(), c))
	return c
}

func (f *fixture) slot(course *booking.Course, resMax int, startIn time.Duration) *booking.Slot {
	f.t.Helper()
	s := &booking.Slot{
		ID:        uuid.New(),
		CourseID:  course.ID,
		TimeStart: testNow.Add(startIn),
		TimeEnd:   testNow.Add(startIn + 30*time.Minute),
		ResMax:    resMax,
	}
	require.NoError(f.t, f.store.Slots().CreateBatch(context.Background(), []*booking.Slot{s}))
	return s
}

func (f *fixture) logs(slotID uuid.UUID) []*booking.MessageLog {
	f.t.Helper()
	entries, err := f.store.MessageLogs().ListBySlot(context.Background(), slotID)
	require.NoError(f.t, err)
	return entries
}

func student(id string, course *booking.Course) booking.Actor {
	return booking.Actor{
		UserID:      id,
		Name:        "Student " + id,
		Roles:       booking.RoleLearner,
		LMSCourseID: course.LMSCourseID,
		Domain:      "lms.example.edu",
	}
}
