package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"
	"lti-booking/pkg/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	dateLayout = "Monday, 02 January 2006"
	timeLayout = "15:04"
)

var subjects = map[booking.Scenario]string{
	booking.ScenarioGroupDone:          "Reservation confirmed: {course_name}",
	booking.ScenarioIndividualDone:     "Reservation confirmed: {course_name}",
	booking.ScenarioGroupCanceled:      "Reservation cancelled: {course_name}",
	booking.ScenarioIndividualCanceled: "Reservation cancelled: {course_name}",
	booking.ScenarioGroupFull:          "Slot fully booked: {course_name}",
}

// NotificationService turns committed reservation changes into LMS
// conversations. Every dispatch attempt is written to the message log and a
// failed one never stops the next.
type NotificationService struct {
	reservations interfaces.ReservationRepository
	slots        interfaces.SlotRepository
	courses      interfaces.CourseRepository
	catalog      interfaces.CatalogRepository
	messageLogs  interfaces.MessageLogRepository
	gateway      interfaces.LMSGateway
	templates    *TemplateStore
	robotName    string
	location     *time.Location
}

func NewNotificationService(
	reservations interfaces.ReservationRepository,
	slots interfaces.SlotRepository,
	courses interfaces.CourseRepository,
	catalog interfaces.CatalogRepository,
	messageLogs interfaces.MessageLogRepository,
	gateway interfaces.LMSGateway,
	templates *TemplateStore,
	robotName string,
) *NotificationService {
	return &NotificationService{
		reservations: reservations,
		slots:        slots,
		courses:      courses,
		catalog:      catalog,
		messageLogs:  messageLogs,
		gateway:      gateway,
		templates:    templates,
		robotName:    robotName,
		location:     time.UTC,
	}
}

// WithLocation sets the zone used for {date}, {time_start} and {time_end}.
func (s *NotificationService) WithLocation(loc *time.Location) *NotificationService {
	if loc != nil {
		s.location = loc
	}
	return s
}

// notificationContext is everything loaded once per job.
type notificationContext struct {
	job        booking.NotificationJob
	res        *booking.Reservation
	slot       *booking.Slot
	course     *booking.Course
	instructor *booking.Instructor
	owner      interfaces.TokenOwner
	values     map[string]string
}

func (s *NotificationService) HandleNotification(ctx context.Context, job booking.NotificationJob) error {
	nc, err := s.load(ctx, job)
	if err != nil {
		return err
	}

	// the reservation was cancelled before the job ran; its cancel job speaks for it
	if job.Kind == booking.JobReservationCreated && !nc.res.IsActive() {
		logger.WithFields(logrus.Fields{
			"reservation_id": nc.res.ID.String(),
			"job_id":         job.ID.String(),
		}).Info("reservation no longer active, skipping confirmation")
		return nil
	}

	var failed int
	scenario := primaryScenario(job.Kind, nc.res)
	if sent, err := s.notify(ctx, nc, scenario, []string{nc.res.Recipient()}); sent {
		if err != nil {
			failed++
		}
		if err := s.ccInstructor(ctx, nc, scenario); err != nil {
			failed++
		}
	}

	if job.FilledSlot && nc.res.IsGroup() && nc.course.MessageAllWhenFull {
		failed += s.broadcastFull(ctx, nc)
	}

	if failed > 0 {
		return fmt.Errorf("%d notification dispatch(es) failed for reservation %s", failed, nc.res.ID)
	}
	return nil
}

func (s *NotificationService) load(ctx context.Context, job booking.NotificationJob) (*notificationContext, error) {
	res, err := s.reservations.GetByID(ctx, job.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", job.ReservationID, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s", booking.ErrReservationNotFound, job.ReservationID)
	}

	slot, err := s.slots.GetByID(ctx, res.SlotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load slot %s: %w", res.SlotID, err)
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: %s", booking.ErrSlotNotFound, res.SlotID)
	}

	course, err := s.courses.GetByID(ctx, res.CourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course %s: %w", res.CourseID, err)
	}
	if course == nil {
		return nil, fmt.Errorf("%w: %s", booking.ErrCourseNotFound, res.CourseID)
	}

	instructor := slot.Instructor
	if instructor == nil && course.InstructorID != nil {
		if instructor, err = s.catalog.GetInstructor(ctx, *course.InstructorID); err != nil {
			logger.Warn("Failed to load instructor %s: %v", *course.InstructorID, err)
		}
	}

	nc := &notificationContext{
		job:        job,
		res:        res,
		slot:       slot,
		course:     course,
		instructor: instructor,
		owner:      interfaces.TokenOwner{UserID: job.SenderUserID, Domain: job.SenderDomain},
	}
	nc.values = s.placeholderValues(nc)
	return nc, nil
}

func (s *NotificationService) placeholderValues(nc *notificationContext) map[string]string {
	start := nc.slot.TimeStart.In(s.location)
	values := map[string]string{
		"course_name":               nc.course.Name,
		"user_name":                 nc.res.UserName,
		"group_name":                nc.res.GroupName,
		"time_start":                start.Format(timeLayout),
		"time_end":                  nc.slot.TimeEnd.In(s.location).Format(timeLayout),
		"date":                      start.Format(dateLayout),
		"location":                  "",
		"instructor_name":           "",
		"instructor_email":          "",
		"cancellation_policy_hours": strconv.Itoa(nc.course.CancellationPolicyHours),
		"robot_name":                s.robotName,
		"message":                   nc.res.Message,
	}
	if nc.slot.Location != nil {
		values["location"] = nc.slot.Location.Name
	}
	if nc.instructor != nil {
		values["instructor_name"] = nc.instructor.Name
		values["instructor_email"] = nc.instructor.Email
	}
	return values
}

// notify composes scenario and sends it. sent is false when there was no
// body to send; nothing is logged to the message log in that case.
func (s *NotificationService) notify(ctx context.Context, nc *notificationContext, scenario booking.Scenario, recipients []string) (sent bool, err error) {
	body, ok := s.body(nc, scenario)
	if !ok {
		return false, nil
	}
	subject := Render(subjects[scenario], nc.values)
	return true, s.dispatch(ctx, nc, scenario, recipients, subject, body)
}

func (s *NotificationService) ccInstructor(ctx context.Context, nc *notificationContext, scenario booking.Scenario) error {
	if !nc.course.MessageCcInstructor || nc.instructor == nil || nc.instructor.LMSUserID == "" {
		return nil
	}
	body, ok := s.body(nc, scenario)
	if !ok {
		return nil
	}
	subject := "[cc] " + Render(subjects[scenario], nc.values)
	return s.dispatch(ctx, nc, scenario, []string{nc.instructor.LMSUserID}, subject, body)
}

// broadcastFull tells every group on a slot the job's reservation filled.
// The holder list is read after the commit and the broadcast is dropped when
// a cancellation already reopened the slot. Returns the number of failed
// dispatches.
func (s *NotificationService) broadcastFull(ctx context.Context, nc *notificationContext) int {
	active, err := s.reservations.ListActiveBySlot(ctx, nc.slot.ID)
	if err != nil {
		logger.Error("Failed to load reservations of slot %s for full broadcast: %v", nc.slot.ID, err)
		return 1
	}
	if len(active) < nc.slot.ResMax {
		return 0
	}

	failed := 0
	seen := make(map[string]bool)
	for _, r := range active {
		if !r.IsGroup() || seen[*r.GroupID] {
			continue
		}
		seen[*r.GroupID] = true
		if sent, err := s.notify(ctx, nc, booking.ScenarioGroupFull, []string{r.Recipient()}); !sent {
			return failed
		} else if err != nil {
			failed++
		}
	}

	if len(seen) > 0 {
		if err := s.ccInstructor(ctx, nc, booking.ScenarioGroupFull); err != nil {
			failed++
		}
	}
	return failed
}

// body picks the course override, then the default template file.
func (s *NotificationService) body(nc *notificationContext, scenario booking.Scenario) (string, bool) {
	override := ""
	switch scenario {
	case booking.ScenarioGroupDone, booking.ScenarioIndividualDone:
		override = nc.course.MessageConfirmation
	case booking.ScenarioGroupCanceled, booking.ScenarioIndividualCanceled:
		override = nc.course.MessageCancelled
	case booking.ScenarioGroupFull:
		override = nc.course.MessageFull
	}
	if strings.TrimSpace(override) != "" {
		return Render(override, nc.values), true
	}

	tmpl, err := s.templates.Load(scenario)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"scenario":       string(scenario),
			"course_id":      nc.course.ID.String(),
			"reservation_id": nc.res.ID.String(),
		}).WithError(err).Error("no message body for notification, skipping")
		return "", false
	}
	return Render(tmpl, nc.values), true
}

func (s *NotificationService) dispatch(ctx context.Context, nc *notificationContext, scenario booking.Scenario, recipients []string, subject, body string) error {
	sendErr := s.gateway.SendConversation(ctx, nc.owner, booking.DispatchRequest{
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		ContextID:  nc.course.LMSCourseID,
	})

	recipientsJSON, _ := json.Marshal(recipients)
	resID := nc.res.ID
	entry := &booking.MessageLog{
		ID:            uuid.New(),
		SlotID:        nc.slot.ID,
		ReservationID: &resID,
		Scenario:      string(scenario),
		Recipients:    datatypes.JSON(recipientsJSON),
		Subject:       subject,
		Body:          body,
		Success:       sendErr == nil,
	}

	fields := logrus.Fields{
		"slot_id":        nc.slot.ID.String(),
		"reservation_id": resID.String(),
		"scenario":       string(scenario),
		"recipients":     strings.Join(recipients, ","),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.ErrorMessage = &msg
		logger.WithFields(fields).WithError(sendErr).Warn("notification dispatch failed")
	} else {
		logger.WithFields(fields).Info("notification sent")
	}

	// the log write must happen even if the job context ran out during the send
	if err := s.messageLogs.Create(context.WithoutCancel(ctx), entry); err != nil {
		logger.WithFields(fields).WithError(err).Error("failed to write message log")
		return errors.Join(sendErr, err)
	}
	return sendErr
}

func primaryScenario(kind booking.JobKind, res *booking.Reservation) booking.Scenario {
	group := res.IsGroup()
	switch {
	case kind == booking.JobReservationCancelled && group:
		return booking.ScenarioGroupCanceled
	case kind == booking.JobReservationCancelled:
		return booking.ScenarioIndividualCanceled
	case group:
		return booking.ScenarioGroupDone
	default:
		return booking.ScenarioIndividualDone
	}
}

var _ interfaces.NotificationHandler = (*NotificationService)(nil)
