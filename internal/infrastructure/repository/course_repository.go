package repository

import (
	"context"
	"errors"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/database"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) interfaces.CourseRepository {
	return &CourseRepository{
		db: db,
	}
}

func (r *CourseRepository) Create(ctx context.Context, course *booking.Course) error {
	if course.ID == uuid.Nil {
		course.ID = uuid.New()
	}
	if course.State == "" {
		course.State = booking.StateActive
	}
	return database.MapError(r.db.WithContext(ctx).Create(course).Error)
}

// Update rewrites the policy columns. Identity and lifecycle are left alone.
func (r *CourseRepository) Update(ctx context.Context, course *booking.Course) error {
	result := r.db.WithContext(ctx).
		Model(&booking.Course{}).
		Where("id = ? AND state = ?", course.ID, booking.StateActive).
		Select("name", "segment_id", "instructor_id", "capacity_type", "max_per_type",
			"cancellation_policy_hours", "message_confirmation", "message_full", "message_cancelled",
			"message_is_mandatory", "message_all_when_full", "message_cc_instructor", "updated_at").
		Updates(course)
	if result.Error != nil {
		return database.MapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return booking.ErrCourseNotFound
	}
	return nil
}

func (r *CourseRepository) GetByID(ctx context.Context, id uuid.UUID) (*booking.Course, error) {
	var course booking.Course
	err := r.db.WithContext(ctx).First(&course, "id = ? AND state = ?", id, booking.StateActive).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) GetByLMSCourseID(ctx context.Context, lmsCourseID string) (*booking.Course, error) {
	var course booking.Course
	err := r.db.WithContext(ctx).First(&course, "lms_course_id = ? AND state = ?", lmsCourseID, booking.StateActive).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) List(ctx context.Context) ([]*booking.Course, error) {
	var courses []*booking.Course
	err := r.db.WithContext(ctx).
		Where("state = ?", booking.StateActive).
		Order("name").
		Find(&courses).Error
	if err != nil {
		return nil, err
	}
	return courses, nil
}
