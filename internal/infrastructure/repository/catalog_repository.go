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

// CatalogRepository stores the small roster entities slots and courses point at.
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) interfaces.CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) CreateSegment(ctx context.Context, segment *booking.Segment) error {
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	segment.State = booking.StateActive
	return database.MapError(r.db.WithContext(ctx).Create(segment).Error)
}

func (r *CatalogRepository) ListSegments(ctx context.Context) ([]*booking.Segment, error) {
	var segments []*booking.Segment
	err := r.db.WithContext(ctx).Where("state = ?", booking.StateActive).Order("name").Find(&segments).Error
	return segments, err
}

func (r *CatalogRepository) CreateLocation(ctx context.Context, location *booking.Location) error {
	if location.ID == uuid.Nil {
		location.ID = uuid.New()
	}
	location.State = booking.StateActive
	return database.MapError(r.db.WithContext(ctx).Create(location).Error)
}

func (r *CatalogRepository) ListLocations(ctx context.Context) ([]*booking.Location, error) {
	var locations []*booking.Location
	err := r.db.WithContext(ctx).Where("state = ?", booking.StateActive).Order("name").Find(&locations).Error
	return locations, err
}

func (r *CatalogRepository) CreateInstructor(ctx context.Context, instructor *booking.Instructor) error {
	if instructor.ID == uuid.Nil {
		instructor.ID = uuid.New()
	}
	instructor.State = booking.StateActive
	return database.MapError(r.db.WithContext(ctx).Create(instructor).Error)
}

func (r *CatalogRepository) GetInstructor(ctx context.Context, id uuid.UUID) (*booking.Instructor, error) {
	var instructor booking.Instructor
	err := r.db.WithContext(ctx).First(&instructor, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &instructor, nil
}

func (r *CatalogRepository) ListInstructors(ctx context.Context) ([]*booking.Instructor, error) {
	var instructors []*booking.Instructor
	err := r.db.WithContext(ctx).Where("state = ?", booking.StateActive).Order("name").Find(&instructors).Error
	return instructors, err
}
