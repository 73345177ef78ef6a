package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/cache"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	serviceInterfaces "lti-booking/internal/interfaces/service"
	"lti-booking/pkg/logger"

	"github.com/google/uuid"
)

const SlotViewCacheName = "slot_views"

type CatalogService struct {
	courses   interfaces.CourseRepository
	slots     interfaces.SlotRepository
	slotViews interfaces.SlotViewRepository
	catalog   interfaces.CatalogRepository
	cache     interfaces.CacheService
	metrics   interfaces.CacheMetrics
	viewTTL   time.Duration
	clock     func() time.Time
}

func NewCatalogService(
	courses interfaces.CourseRepository,
	slots interfaces.SlotRepository,
	slotViews interfaces.SlotViewRepository,
	catalog interfaces.CatalogRepository,
	cacheService interfaces.CacheService,
	metrics interfaces.CacheMetrics,
	viewTTL time.Duration,
) *CatalogService {
	return &CatalogService{
		courses:   courses,
		slots:     slots,
		slotViews: slotViews,
		catalog:   catalog,
		cache:     cacheService,
		metrics:   metrics,
		viewTTL:   viewTTL,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *CatalogService) WithClock(clock func() time.Time) *CatalogService {
	s.clock = clock
	return s
}

// CreateCourse binds booking policy to an LMS course. Instructors may only
// create the course their session was launched from.
func (s *CatalogService) CreateCourse(ctx context.Context, actor booking.Actor, req *serviceInterfaces.CreateCourseRequest) (*booking.Course, error) {
	if !actor.Manages(strings.TrimSpace(req.LMSCourseID)) {
		return nil, booking.ErrForbidden
	}

	course := &booking.Course{
		LMSCourseID:             strings.TrimSpace(req.LMSCourseID),
		Name:                    strings.TrimSpace(req.Name),
		SegmentID:               req.SegmentID,
		InstructorID:            req.InstructorID,
		CapacityType:            booking.CapacityType(req.CapacityType),
		MaxPerType:              req.MaxPerType,
		CancellationPolicyHours: req.CancellationPolicyHours,
	}
	applyPolicy(course, req.CoursePolicy)

	if err := s.courses.Create(ctx, course); err != nil {
		return nil, err
	}

	logger.Info("Created course %s (%s) for LMS course %s", course.ID, course.CapacityType, course.LMSCourseID)
	return course, nil
}

func (s *CatalogService) UpdateCoursePolicy(ctx context.Context, actor booking.Actor, courseID uuid.UUID, req *serviceInterfaces.UpdateCoursePolicyRequest) (*booking.Course, error) {
	course, err := s.managedCourse(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}

	course.Name = strings.TrimSpace(req.Name)
	course.MaxPerType = req.MaxPerType
	course.CancellationPolicyHours = req.CancellationPolicyHours
	applyPolicy(course, req.CoursePolicy)

	if err := s.courses.Update(ctx, course); err != nil {
		return nil, err
	}
	s.invalidate(ctx, course.ID)
	return course, nil
}

func (s *CatalogService) GetCourse(ctx context.Context, courseID uuid.UUID) (*booking.Course, error) {
	course, err := s.courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course: %w", err)
	}
	if course == nil {
		return nil, booking.ErrCourseNotFound
	}
	return course, nil
}

func (s *CatalogService) managedCourse(ctx context.Context, actor booking.Actor, courseID uuid.UUID) (*booking.Course, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.Manages(course.LMSCourseID) {
		return nil, booking.ErrForbidden
	}
	return course, nil
}

func (s *CatalogService) ListCourses(ctx context.Context) ([]*booking.Course, error) {
	return s.courses.List(ctx)
}

// CreateSlots expands a repeating batch and stores it in one transaction.
func (s *CatalogService) CreateSlots(ctx context.Context, actor booking.Actor, courseID uuid.UUID, req *serviceInterfaces.CreateSlotsRequest) ([]*booking.Slot, error) {
	course, err := s.managedCourse(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}

	slots, err := expandSlots(course, req)
	if err != nil {
		return nil, err
	}

	if err := s.slots.CreateBatch(ctx, slots); err != nil {
		return nil, err
	}

	s.invalidate(ctx, course.ID)
	logger.Info("Created %d slots for course %s", len(slots), course.ID)
	return slots, nil
}

func expandSlots(course *booking.Course, req *serviceInterfaces.CreateSlotsRequest) ([]*booking.Slot, error) {
	if req.Count > 1 && req.Interval < req.Duration {
		return nil, fmt.Errorf("%w: interval must be at least the slot duration", booking.ErrInvalidSlotBatch)
	}

	instructorID := req.InstructorID
	if instructorID == nil {
		instructorID = course.InstructorID
	}

	duration := time.Duration(req.Duration) * time.Minute
	interval := time.Duration(req.Interval) * time.Minute
	start := req.FirstStart.UTC()

	slots := make([]*booking.Slot, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		begin := start.Add(time.Duration(i) * interval)
		slots = append(slots, &booking.Slot{
			ID:           uuid.New(),
			CourseID:     course.ID,
			InstructorID: instructorID,
			LocationID:   req.LocationID,
			TimeStart:    begin,
			TimeEnd:      begin.Add(duration),
			ResMax:       req.ResMax,
			State:        booking.StateActive,
		})
	}
	return slots, nil
}

func (s *CatalogService) DeleteSlot(ctx context.Context, actor booking.Actor, slotID uuid.UUID) error {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return fmt.Errorf("failed to load slot: %w", err)
	}
	if slot == nil || slot.State != booking.StateActive {
		return booking.ErrSlotNotFound
	}
	if _, err := s.managedCourse(ctx, actor, slot.CourseID); err != nil {
		return err
	}

	if err := s.slots.Cancel(ctx, slotID); err != nil {
		return err
	}
	s.invalidate(ctx, slot.CourseID)
	return nil
}

// ListSlots returns the availability of a course's slots starting at from
// (default now), decorated for actor.
func (s *CatalogService) ListSlots(ctx context.Context, actor booking.Actor, courseID uuid.UUID, from *time.Time) ([]*booking.SlotView, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.InCourse(course.LMSCourseID) {
		return nil, booking.ErrForbidden
	}

	views, err := s.cache.GetSlotViews(ctx, courseID)
	if err == nil {
		s.metrics.Hit(SlotViewCacheName)
	} else {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("Slot view cache read failed for course %s: %v", courseID, err)
		}
		s.metrics.Miss(SlotViewCacheName)

		views, err = s.slotViews.ListSlotViews(ctx, courseID)
		if err != nil {
			return nil, fmt.Errorf("failed to list slots: %w", err)
		}
		if err := s.cache.SetSlotViews(ctx, courseID, views, s.viewTTL); err != nil {
			logger.Warn("Slot view cache write failed for course %s: %v", courseID, err)
		}
	}

	cutoff := s.clock()
	if from != nil {
		cutoff = *from
	}

	out := make([]*booking.SlotView, 0, len(views))
	for _, v := range views {
		if v.TimeEnd.Before(cutoff) {
			continue
		}
		view := *v
		view.Decorate(actor)
		out = append(out, &view)
	}
	return out, nil
}

func (s *CatalogService) CreateSegment(ctx context.Context, req *serviceInterfaces.NamedEntityRequest) (*booking.Segment, error) {
	segment := &booking.Segment{Name: strings.TrimSpace(req.Name)}
	if err := s.catalog.CreateSegment(ctx, segment); err != nil {
		return nil, err
	}
	return segment, nil
}

func (s *CatalogService) ListSegments(ctx context.Context) ([]*booking.Segment, error) {
	return s.catalog.ListSegments(ctx)
}

func (s *CatalogService) CreateLocation(ctx context.Context, req *serviceInterfaces.NamedEntityRequest) (*booking.Location, error) {
	location := &booking.Location{Name: strings.TrimSpace(req.Name)}
	if err := s.catalog.CreateLocation(ctx, location); err != nil {
		return nil, err
	}
	return location, nil
}

func (s *CatalogService) ListLocations(ctx context.Context) ([]*booking.Location, error) {
	return s.catalog.ListLocations(ctx)
}

func (s *CatalogService) CreateInstructor(ctx context.Context, req *serviceInterfaces.CreateInstructorRequest) (*booking.Instructor, error) {
	instructor := &booking.Instructor{
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		LMSUserID: strings.TrimSpace(req.LMSUserID),
	}
	if err := s.catalog.CreateInstructor(ctx, instructor); err != nil {
		return nil, err
	}
	return instructor, nil
}

func (s *CatalogService) ListInstructors(ctx context.Context) ([]*booking.Instructor, error) {
	return s.catalog.ListInstructors(ctx)
}

func (s *CatalogService) invalidate(ctx context.Context, courseID uuid.UUID) {
	if err := s.cache.InvalidateCourseSlots(ctx, courseID); err != nil {
		logger.Warn("Failed to invalidate slot cache for course %s: %v", courseID, err)
	}
}

func applyPolicy(course *booking.Course, p serviceInterfaces.CoursePolicy) {
	course.MessageConfirmation = p.MessageConfirmation
	course.MessageFull = p.MessageFull
	course.MessageCancelled = p.MessageCancelled
	course.MessageIsMandatory = p.MessageIsMandatory
	course.MessageAllWhenFull = p.MessageAllWhenFull
	course.MessageCcInstructor = p.MessageCcInstructor

	for _, body := range []string{p.MessageConfirmation, p.MessageFull, p.MessageCancelled} {
		if unknown := UnknownPlaceholders(body); len(unknown) > 0 {
			logger.Warn("Course %s message uses unknown placeholders %v; they are sent as written", course.LMSCourseID, unknown)
		}
	}
}

var _ serviceInterfaces.CatalogService = (*CatalogService)(nil)
