package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	serviceInterfaces "lti-booking/internal/interfaces/service"
	"lti-booking/pkg/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReservationService runs the create and cancel use cases. The admission
// decision and the write happen inside one repository call; notifications
// are queued after the commit and never affect the result.
type ReservationService struct {
	slots        interfaces.SlotRepository
	courses      interfaces.CourseRepository
	reservations interfaces.ReservationRepository
	messageLogs  interfaces.MessageLogRepository
	groups       serviceInterfaces.GroupResolver
	queue        interfaces.QueueService
	cache        interfaces.CacheService
	clock        func() time.Time
}

func NewReservationService(
	slots interfaces.SlotRepository,
	courses interfaces.CourseRepository,
	reservations interfaces.ReservationRepository,
	messageLogs interfaces.MessageLogRepository,
	groups serviceInterfaces.GroupResolver,
	queue interfaces.QueueService,
	cache interfaces.CacheService,
) *ReservationService {
	return &ReservationService{
		slots:        slots,
		courses:      courses,
		reservations: reservations,
		messageLogs:  messageLogs,
		groups:       groups,
		queue:        queue,
		cache:        cache,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *ReservationService) WithClock(clock func() time.Time) *ReservationService {
	s.clock = clock
	return s
}

func (s *ReservationService) CreateReservation(ctx context.Context, actor booking.Actor, req *serviceInterfaces.CreateReservationRequest) (*serviceInterfaces.ReservationResult, error) {
	now := s.clock()

	slot, course, err := s.loadSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	if !actor.InCourse(course.LMSCourseID) {
		return nil, booking.ErrForbidden
	}

	if course.MessageIsMandatory && strings.TrimSpace(req.Message) == "" {
		return rejected(booking.MessageRequired), nil
	}

	res := &booking.Reservation{
		SlotID:    slot.ID,
		CourseID:  course.ID,
		UserID:    actor.UserID,
		UserName:  actor.Name,
		Message:   strings.TrimSpace(req.Message),
		CreatedAt: now,
	}

	var (
		chosen    booking.Group
		hasGroup  bool
		groupSlot = course.CapacityType == booking.CapacityGroup
	)
	if groupSlot && actor.CanBook() {
		groups, err := s.groups.GroupsFor(ctx, actor)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve groups: %w", err)
		}
		actor.Groups = groups
		chosen, hasGroup = pickGroup(actor, req.GroupID)
		if hasGroup {
			res.GroupID = &chosen.ID
			res.GroupName = chosen.Name
		}
	}

	var filled bool
	decision, err := s.reservations.Reserve(ctx, res, func(snap *booking.SlotSnapshot) booking.Decision {
		d := booking.Evaluate(snap, actor, now)
		if d.Admitted && groupSlot && !hasGroup {
			return booking.Reject(booking.NotInGroup)
		}
		filled = d.Admitted && snap.LastSeat()
		return d
	})
	if err != nil {
		if errors.Is(err, booking.ErrSlotNotFound) {
			return nil, err
		}
		logger.Error("Failed to reserve slot %s for user %s: %v", slot.ID, actor.UserID, err)
		return nil, fmt.Errorf("failed to reserve slot: %w", err)
	}

	fields := logrus.Fields{"slot_id": slot.ID.String(), "user_id": actor.UserID}
	if !decision.Admitted {
		fields["reason"] = string(decision.Reason)
		logger.WithFields(fields).Info("reservation rejected")
		return rejected(decision.Reason), nil
	}

	fields["reservation_id"] = res.ID.String()
	logger.WithFields(fields).Info("reservation created")

	s.afterCommit(ctx, course.ID, booking.JobReservationCreated, res, actor, now, filled)

	id := res.ID
	return &serviceInterfaces.ReservationResult{
		Success:       true,
		ReservationID: &id,
		Message:       "Reservation created",
	}, nil
}

func (s *ReservationService) CancelReservation(ctx context.Context, actor booking.Actor, reservationID uuid.UUID) (*serviceInterfaces.CancelResult, error) {
	now := s.clock()

	existing, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if existing == nil {
		return nil, booking.ErrReservationNotFound
	}

	course, err := s.courses.GetByID(ctx, existing.CourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course: %w", err)
	}
	if course == nil {
		return nil, booking.ErrReservationNotFound
	}
	if !actor.InCourse(course.LMSCourseID) {
		return nil, booking.ErrForbidden
	}

	// group members other than the booker need their groups for the ownership check
	if existing.IsGroup() && existing.UserID != actor.UserID && !actor.Manages(course.LMSCourseID) && len(actor.Groups) == 0 {
		groups, err := s.groups.GroupsFor(ctx, actor)
		if err != nil {
			logger.Warn("Could not resolve groups of user %s for cancellation: %v", actor.UserID, err)
		}
		actor.Groups = groups
	}

	res, decision, err := s.reservations.Cancel(ctx, reservationID, func(r *booking.Reservation, slot *booking.Slot, course *booking.Course) booking.Decision {
		return booking.EvaluateCancel(r, slot, course, actor, now)
	}, actor.UserID, now)
	if err != nil {
		if errors.Is(err, booking.ErrReservationNotFound) {
			return nil, err
		}
		logger.Error("Failed to cancel reservation %s: %v", reservationID, err)
		return nil, fmt.Errorf("failed to cancel reservation: %w", err)
	}

	if !decision.Admitted {
		logger.WithFields(logrus.Fields{
			"reservation_id": reservationID.String(),
			"user_id":        actor.UserID,
			"reason":         string(decision.Reason),
		}).Info("cancellation rejected")
		return &serviceInterfaces.CancelResult{Reason: decision.Reason, Message: decision.Reason.Message()}, nil
	}

	logger.WithFields(logrus.Fields{
		"reservation_id": reservationID.String(),
		"slot_id":        res.SlotID.String(),
		"cancelled_by":   actor.UserID,
	}).Info("reservation cancelled")

	s.afterCommit(ctx, res.CourseID, booking.JobReservationCancelled, res, actor, now, false)

	return &serviceInterfaces.CancelResult{Success: true, Message: "Reservation cancelled"}, nil
}

// MyReservations lists the reservations held by the actor or one of its groups.
func (s *ReservationService) MyReservations(ctx context.Context, actor booking.Actor) ([]*booking.ReservationDetail, error) {
	now := s.clock()

	if len(actor.Groups) == 0 && actor.CanBook() {
		groups, err := s.groups.GroupsFor(ctx, actor)
		if err != nil {
			logger.Warn("Listing reservations of user %s without groups: %v", actor.UserID, err)
		}
		actor.Groups = groups
	}

	list, err := s.reservations.ListByHolder(ctx, actor.UserID, actor.GroupIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	slots := make(map[uuid.UUID]*booking.Slot)
	courses := make(map[uuid.UUID]*booking.Course)
	details := make([]*booking.ReservationDetail, 0, len(list))

	for _, r := range list {
		slot, ok := slots[r.SlotID]
		if !ok {
			if slot, err = s.slots.GetByID(ctx, r.SlotID); err != nil {
				return nil, fmt.Errorf("failed to load slot %s: %w", r.SlotID, err)
			}
			slots[r.SlotID] = slot
		}
		course, ok := courses[r.CourseID]
		if !ok {
			if course, err = s.courses.GetByID(ctx, r.CourseID); err != nil {
				return nil, fmt.Errorf("failed to load course %s: %w", r.CourseID, err)
			}
			courses[r.CourseID] = course
		}
		if slot == nil || course == nil {
			continue
		}

		details = append(details, &booking.ReservationDetail{
			Reservation:  r,
			Slot:         slot,
			CourseName:   course.Name,
			IsCancelable: r.IsActive() && booking.IsCancelable(slot.TimeStart, now, course.CancellationPolicyHours),
		})
	}

	return details, nil
}

func (s *ReservationService) SlotReservations(ctx context.Context, actor booking.Actor, slotID uuid.UUID) ([]*booking.Reservation, error) {
	if _, err := s.managedSlot(ctx, actor, slotID); err != nil {
		return nil, err
	}
	return s.reservations.ListActiveBySlot(ctx, slotID)
}

func (s *ReservationService) SlotMessages(ctx context.Context, actor booking.Actor, slotID uuid.UUID) ([]*booking.MessageLog, error) {
	if _, err := s.managedSlot(ctx, actor, slotID); err != nil {
		return nil, err
	}
	return s.messageLogs.ListBySlot(ctx, slotID)
}

// managedSlot loads a slot and checks that actor manages its course.
func (s *ReservationService) managedSlot(ctx context.Context, actor booking.Actor, slotID uuid.UUID) (*booking.Slot, error) {
	if !actor.CanManage() {
		return nil, booking.ErrForbidden
	}
	slot, course, err := s.loadSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !actor.Manages(course.LMSCourseID) {
		return nil, booking.ErrForbidden
	}
	return slot, nil
}

func (s *ReservationService) loadSlot(ctx context.Context, slotID uuid.UUID) (*booking.Slot, *booking.Course, error) {
	slot, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load slot: %w", err)
	}
	if slot == nil || slot.State != booking.StateActive {
		return nil, nil, booking.ErrSlotNotFound
	}

	course, err := s.courses.GetByID(ctx, slot.CourseID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load course: %w", err)
	}
	if course == nil {
		return nil, nil, booking.ErrSlotNotFound
	}
	return slot, course, nil
}

// afterCommit drops cached availability and queues the notification job.
// Both are best effort: the reservation is already committed.
func (s *ReservationService) afterCommit(ctx context.Context, courseID uuid.UUID, kind booking.JobKind, res *booking.Reservation, actor booking.Actor, now time.Time, filled bool) {
	if err := s.cache.InvalidateCourseSlots(ctx, courseID); err != nil {
		logger.Warn("Failed to invalidate slot cache for course %s: %v", courseID, err)
	}

	job := booking.NotificationJob{
		ID:            uuid.New(),
		Kind:          kind,
		ReservationID: res.ID,
		SlotID:        res.SlotID,
		SenderUserID:  actor.UserID,
		SenderDomain:  actor.Domain,
		EnqueuedAt:    now,
		FilledSlot:    filled,
	}
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		logger.WithFields(logrus.Fields{
			"reservation_id": res.ID.String(),
			"kind":           string(kind),
		}).WithError(err).Error("failed to enqueue notification")
	}
}

// pickGroup chooses the group to book for. Without an explicit choice a
// single membership is used.
func pickGroup(actor booking.Actor, groupID string) (booking.Group, bool) {
	if groupID != "" {
		return actor.Group(groupID)
	}
	if len(actor.Groups) == 1 {
		return actor.Groups[0], true
	}
	return booking.Group{}, false
}

func rejected(reason booking.Reason) *serviceInterfaces.ReservationResult {
	return &serviceInterfaces.ReservationResult{Reason: reason, Message: reason.Message()}
}

var _ serviceInterfaces.ReservationService = (*ReservationService)(nil)
