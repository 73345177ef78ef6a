package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
)

// MemoryStore is an in-process implementation of every repository. A single
// mutex makes Reserve and Cancel atomic, matching the row locks of the
// postgres repositories. It backs tests and the "memory" database driver.
type MemoryStore struct {
	mutex sync.RWMutex

	courses      map[uuid.UUID]booking.Course
	slots        map[uuid.UUID]booking.Slot
	reservations map[uuid.UUID]booking.Reservation
	segments     map[uuid.UUID]booking.Segment
	locations    map[uuid.UUID]booking.Location
	instructors  map[uuid.UUID]booking.Instructor
	messageLogs  []booking.MessageLog
	tokens       map[string]booking.CachedToken
	idempotency  map[string]booking.IdempotencyKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:      make(map[uuid.UUID]booking.Course),
		slots:        make(map[uuid.UUID]booking.Slot),
		reservations: make(map[uuid.UUID]booking.Reservation),
		segments:     make(map[uuid.UUID]booking.Segment),
		locations:    make(map[uuid.UUID]booking.Location),
		instructors:  make(map[uuid.UUID]booking.Instructor),
		tokens:       make(map[string]booking.CachedToken),
		idempotency:  make(map[string]booking.IdempotencyKey),
	}
}

func (s *MemoryStore) Courses() interfaces.CourseRepository           { return memCourses{s} }
func (s *MemoryStore) Slots() interfaces.SlotRepository               { return memSlots{s} }
func (s *MemoryStore) SlotViews() interfaces.SlotViewRepository       { return memSlotViews{s} }
func (s *MemoryStore) Reservations() interfaces.ReservationRepository { return memReservations{s} }
func (s *MemoryStore) Catalog() interfaces.CatalogRepository          { return memCatalog{s} }
func (s *MemoryStore) MessageLogs() interfaces.MessageLogRepository   { return memMessageLogs{s} }
func (s *MemoryStore) Tokens() interfaces.TokenRepository             { return memTokens{s} }
func (s *MemoryStore) Idempotency() interfaces.IdempotencyRepository  { return memIdempotency{s} }

// SeedDemo loads one individual and one group course with upcoming slots.
func (s *MemoryStore) SeedDemo(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	instructor := booking.Instructor{ID: uuid.New(), Name: "Dr. Ada Lovelace", Email: "ada@example.edu", LMSUserID: "1001", State: booking.StateActive}
	room := booking.Location{ID: uuid.New(), Name: "Room 101", State: booking.StateActive}
	s.instructors[instructor.ID] = instructor
	s.locations[room.ID] = room

	courses := []booking.Course{
		{ID: uuid.New(), LMSCourseID: "101", Name: "Office Hours", CapacityType: booking.CapacityIndividual,
			MaxPerType: 1, CancellationPolicyHours: 24, InstructorID: &instructor.ID, MessageCcInstructor: true},
		{ID: uuid.New(), LMSCourseID: "202", Name: "Project Seminar", CapacityType: booking.CapacityGroup,
			MaxPerType: 1, CancellationPolicyHours: 48, InstructorID: &instructor.ID, MessageAllWhenFull: true},
	}

	start := now.Truncate(time.Hour).Add(48 * time.Hour)
	for _, c := range courses {
		c.State = booking.StateActive
		c.CreatedAt, c.UpdatedAt = now, now
		s.courses[c.ID] = c
		for i := 0; i < 5; i++ {
			slot := booking.Slot{
				ID:           uuid.New(),
				CourseID:     c.ID,
				InstructorID: &instructor.ID,
				LocationID:   &room.ID,
				TimeStart:    start.Add(time.Duration(i) * time.Hour),
				TimeEnd:      start.Add(time.Duration(i)*time.Hour + 45*time.Minute),
				ResMax:       2,
				State:        booking.StateActive,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			s.slots[slot.ID] = slot
		}
	}
}

// courseReservationsLocked returns active reservations of a course. Caller holds the lock.
func (s *MemoryStore) courseReservationsLocked(courseID uuid.UUID) []booking.Reservation {
	var out []booking.Reservation
	for _, r := range s.reservations {
		if r.CourseID == courseID && r.IsActive() {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) hydrateSlotLocked(slot booking.Slot) *booking.Slot {
	if slot.InstructorID != nil {
		if in, ok := s.instructors[*slot.InstructorID]; ok {
			slot.Instructor = &in
		}
	}
	if slot.LocationID != nil {
		if loc, ok := s.locations[*slot.LocationID]; ok {
			slot.Location = &loc
		}
	}
	return &slot
}

type memCourses struct{ s *MemoryStore }

func (m memCourses) Create(ctx context.Context, course *booking.Course) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()

	for _, c := range m.s.courses {
		if c.LMSCourseID == course.LMSCourseID && c.State == booking.StateActive {
			return booking.ErrDuplicate
		}
	}
	if course.ID == uuid.Nil {
		course.ID = uuid.New()
	}
	course.State = booking.StateActive
	course.CreatedAt = time.Now().UTC()
	course.UpdatedAt = course.CreatedAt
	m.s.courses[course.ID] = *course
	return nil
}

func (m memCourses) Update(ctx context.Context, course *booking.Course) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()

	existing, ok := m.s.courses[course.ID]
	if !ok || existing.State != booking.StateActive {
		return booking.ErrCourseNotFound
	}
	updated := *course
	updated.LMSCourseID = existing.LMSCourseID
	updated.State = existing.State
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	m.s.courses[course.ID] = updated
	return nil
}

func (m memCourses) GetByID(ctx context.Context, id uuid.UUID) (*booking.Course, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	c, ok := m.s.courses[id]
	if !ok || c.State != booking.StateActive {
		return nil, nil
	}
	return &c, nil
}

func (m memCourses) GetByLMSCourseID(ctx context.Context, lmsCourseID string) (*booking.Course, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	for _, c := range m.s.courses {
		if c.LMSCourseID == lmsCourseID && c.State == booking.StateActive {
			return &c, nil
		}
	}
	return nil, nil
}

func (m memCourses) List(ctx context.Context) ([]*booking.Course, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	out := make([]*booking.Course, 0, len(m.s.courses))
	for _, c := range m.s.courses {
		if c.State == booking.StateActive {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memSlots struct{ s *MemoryStore }

func (m memSlots) CreateBatch(ctx context.Context, slots []*booking.Slot) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()

	for _, slot := range slots {
		if _, ok := m.s.courses[slot.CourseID]; !ok {
			return booking.ErrInvalidReference
		}
	}
	now := time.Now().UTC()
	for _, slot := range slots {
		if slot.ID == uuid.Nil {
			slot.ID = uuid.New()
		}
		slot.State = booking.StateActive
		slot.CreatedAt, slot.UpdatedAt = now, now
		stored := *slot
		stored.Instructor, stored.Location = nil, nil
		m.s.slots[slot.ID] = stored
	}
	return nil
}

func (m memSlots) GetByID(ctx context.Context, id uuid.UUID) (*booking.Slot, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	slot, ok := m.s.slots[id]
	if !ok || slot.State != booking.StateActive {
		return nil, nil
	}
	return m.s.hydrateSlotLocked(slot), nil
}

func (m memSlots) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]*booking.Slot, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	var out []*booking.Slot
	for _, slot := range m.s.slots {
		if slot.CourseID == courseID && slot.State == booking.StateActive {
			out = append(out, m.s.hydrateSlotLocked(slot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeStart.Before(out[j].TimeStart) })
	return out, nil
}

func (m memSlots) Cancel(ctx context.Context, id uuid.UUID) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()

	slot, ok := m.s.slots[id]
	if !ok || slot.State != booking.StateActive {
		return booking.ErrSlotNotFound
	}
	for _, r := range m.s.reservations {
		if r.SlotID == id && r.IsActive() {
			return booking.ErrSlotHasReservations
		}
	}
	slot.State = booking.StateCancelled
	slot.UpdatedAt = time.Now().UTC()
	m.s.slots[id] = slot
	return nil
}

type memSlotViews struct{ s *MemoryStore }

func (m memSlotViews) ListSlotViews(ctx context.Context, courseID uuid.UUID) ([]*booking.SlotView, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	course, ok := m.s.courses[courseID]
	if !ok {
		return []*booking.SlotView{}, nil
	}
	reservations := m.s.courseReservationsLocked(courseID)

	views := []*booking.SlotView{}
	for _, slot := range m.s.slots {
		if slot.CourseID != courseID || slot.State != booking.StateActive {
			continue
		}
		snap := booking.BuildSnapshot(&slot, &course, reservations)
		hydrated := m.s.hydrateSlotLocked(slot)
		view := &booking.SlotView{
			ID:               slot.ID,
			CourseID:         courseID,
			CourseName:       course.Name,
			Type:             course.CapacityType,
			TimeStart:        slot.TimeStart,
			TimeEnd:          slot.TimeEnd,
			ResNow:           snap.ResNow,
			ResMax:           slot.ResMax,
			ReservedUserIDs:  snap.ReservedUserIDs,
			ReservedGroupIDs: snap.ReservedGroupIDs,
		}
		if hydrated.Instructor != nil {
			view.InstructorName = hydrated.Instructor.Name
		}
		if hydrated.Location != nil {
			view.LocationName = hydrated.Location.Name
		}
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].TimeStart.Before(views[j].TimeStart) })
	return views, nil
}

type memReservations struct{ s *MemoryStore }

func (m memReservations) Reserve(ctx context.Context, res *booking.Reservation, decide interfaces.AdmissionFunc) (booking.Decision, error) {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()

	slot, ok := m.s.slots[res.SlotID]
	if !ok || slot.State != booking.StateActive {
		return booking.Decision{}, booking.ErrSlotNotFound
	}
	course, ok := m.s.courses[slot.CourseID]
	if !ok || course.State != booking.StateActive {
		return booking.Decision{}, booking.ErrSlotNotFound
	}

	decision := decide(booking.BuildSnapshot(&slot, &course, m.s.courseReservationsLocked(course.ID)))
	if !decision.Admitted {
		return decision, nil
	}

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	res.CourseID = course.ID
	res.State = booking.StateActive
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	m.s.reservations[res.ID] = *res
	return decision, nil
}

func (m memReservations) Cancel(ctx context.Context, id uuid.UUID, check interfaces.CancelFunc, cancelledBy string, at time.Time) (*booking.Reservation, booking.Decision, error) {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()

	res, ok := m.s.reservations[id]
	if !ok {
		return nil, booking.Decision{}, booking.ErrReservationNotFound
	}
	slot := m.s.slots[res.SlotID]
	course := m.s.courses[slot.CourseID]

	decision := check(&res, &slot, &course)
	if !decision.Admitted {
		return &res, decision, nil
	}
	if !res.IsActive() {
		return &res, booking.Reject(booking.NotCancelable), nil
	}

	res.State = booking.StateCancelled
	res.CancelledAt = &at
	res.CancelledBy = cancelledBy
	m.s.reservations[id] = res
	return &res, decision, nil
}

func (m memReservations) GetByID(ctx context.Context, id uuid.UUID) (*booking.Reservation, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	res, ok := m.s.reservations[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (m memReservations) ListActiveBySlot(ctx context.Context, slotID uuid.UUID) ([]*booking.Reservation, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	var out []*booking.Reservation
	for _, r := range m.s.reservations {
		if r.SlotID == slotID && r.IsActive() {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m memReservations) ListByHolder(ctx context.Context, userID string, groupIDs []string) ([]*booking.Reservation, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()

	var out []*booking.Reservation
	for _, r := range m.s.reservations {
		match := r.UserID == userID
		if !match && r.IsGroup() {
			for _, g := range groupIDs {
				if *r.GroupID == g {
					match = true
					break
				}
			}
		}
		if match {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memCatalog struct{ s *MemoryStore }

func (m memCatalog) CreateSegment(ctx context.Context, segment *booking.Segment) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	segment.State = booking.StateActive
	m.s.segments[segment.ID] = *segment
	return nil
}

func (m memCatalog) ListSegments(ctx context.Context) ([]*booking.Segment, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()
	out := make([]*booking.Segment, 0, len(m.s.segments))
	for _, v := range m.s.segments {
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memCatalog) CreateLocation(ctx context.Context, location *booking.Location) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	if location.ID == uuid.Nil {
		location.ID = uuid.New()
	}
	location.State = booking.StateActive
	m.s.locations[location.ID] = *location
	return nil
}

func (m memCatalog) ListLocations(ctx context.Context) ([]*booking.Location, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()
	out := make([]*booking.Location, 0, len(m.s.locations))
	for _, v := range m.s.locations {
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memCatalog) CreateInstructor(ctx context.Context, instructor *booking.Instructor) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	if instructor.ID == uuid.Nil {
		instructor.ID = uuid.New()
	}
	instructor.State = booking.StateActive
	m.s.instructors[instructor.ID] = *instructor
	return nil
}

func (m memCatalog) GetInstructor(ctx context.Context, id uuid.UUID) (*booking.Instructor, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()
	v, ok := m.s.instructors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m memCatalog) ListInstructors(ctx context.Context) ([]*booking.Instructor, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()
	out := make([]*booking.Instructor, 0, len(m.s.instructors))
	for _, v := range m.s.instructors {
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memMessageLogs struct{ s *MemoryStore }

func (m memMessageLogs) Create(ctx context.Context, entry *booking.MessageLog) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.s.messageLogs = append(m.s.messageLogs, *entry)
	return nil
}

func (m memMessageLogs) ListBySlot(ctx context.Context, slotID uuid.UUID) ([]*booking.MessageLog, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()
	var out []*booking.MessageLog
	for _, e := range m.s.messageLogs {
		if e.SlotID == slotID {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

type memTokens struct{ s *MemoryStore }

func tokenKey(userID, domain string) string {
	return domain + "|" + userID
}

func (m memTokens) Get(ctx context.Context, userID, domain string) (*booking.CachedToken, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()
	t, ok := m.s.tokens[tokenKey(userID, domain)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m memTokens) Upsert(ctx context.Context, token *booking.CachedToken) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	token.UpdatedAt = time.Now().UTC()
	m.s.tokens[tokenKey(token.UserID, token.Domain)] = *token
	return nil
}

type memIdempotency struct{ s *MemoryStore }

func (m memIdempotency) Create(ctx context.Context, key *booking.IdempotencyKey) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	if _, exists := m.s.idempotency[key.Key]; exists {
		return booking.ErrDuplicate
	}
	m.s.idempotency[key.Key] = *key
	return nil
}

func (m memIdempotency) GetByKey(ctx context.Context, key string) (*booking.IdempotencyKey, error) {
	m.s.mutex.RLock()
	defer m.s.mutex.RUnlock()
	k, ok := m.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m memIdempotency) Delete(ctx context.Context, key string) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	delete(m.s.idempotency, key)
	return nil
}

func (m memIdempotency) DeleteExpired(ctx context.Context) error {
	m.s.mutex.Lock()
	defer m.s.mutex.Unlock()
	for k, v := range m.s.idempotency {
		if v.IsExpired() {
			delete(m.s.idempotency, k)
		}
	}
	return nil
}
