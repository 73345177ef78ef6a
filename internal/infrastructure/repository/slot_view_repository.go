package repository

import (
	"context"
	"fmt"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const slotViewQuery = `
SELECT s.id,
       s.course_id,
       c.name AS course_name,
       c.capacity_type,
       s.time_start,
       s.time_end,
       s.res_max,
       COALESCE(i.name, '') AS instructor_name,
       COALESCE(l.name, '') AS location_name,
       COUNT(r.id) AS res_now,
       COALESCE(array_agg(r.user_id) FILTER (WHERE r.id IS NOT NULL), '{}') AS reserved_user_ids,
       COALESCE(array_agg(r.group_id) FILTER (WHERE r.group_id IS NOT NULL), '{}') AS reserved_group_ids
FROM slots s
JOIN courses c ON c.id = s.course_id
LEFT JOIN instructors i ON i.id = s.instructor_id
LEFT JOIN locations l ON l.id = s.location_id
LEFT JOIN reservations r ON r.slot_id = s.id AND r.state = 'active'
WHERE s.course_id = $1 AND s.state = 'active'
GROUP BY s.id, c.name, c.capacity_type, i.name, l.name
ORDER BY s.time_start`

type slotViewRow struct {
	ID               uuid.UUID      `db:"id"`
	CourseID         uuid.UUID      `db:"course_id"`
	CourseName       string         `db:"course_name"`
	CapacityType     string         `db:"capacity_type"`
	TimeStart        time.Time      `db:"time_start"`
	TimeEnd          time.Time      `db:"time_end"`
	ResMax           int            `db:"res_max"`
	InstructorName   string         `db:"instructor_name"`
	LocationName     string         `db:"location_name"`
	ResNow           int            `db:"res_now"`
	ReservedUserIDs  pq.StringArray `db:"reserved_user_ids"`
	ReservedGroupIDs pq.StringArray `db:"reserved_group_ids"`
}

// SlotViewRepository reads the availability aggregate in one round trip.
type SlotViewRepository struct {
	db *sqlx.DB
}

func NewSlotViewRepository(db *sqlx.DB) interfaces.SlotViewRepository {
	return &SlotViewRepository{db: db}
}

func (r *SlotViewRepository) ListSlotViews(ctx context.Context, courseID uuid.UUID) ([]*booking.SlotView, error) {
	var rows []slotViewRow
	if err := r.db.SelectContext(ctx, &rows, slotViewQuery, courseID); err != nil {
		return nil, fmt.Errorf("failed to load slot views for course %s: %w", courseID, err)
	}

	views := make([]*booking.SlotView, 0, len(rows))
	for _, row := range rows {
		views = append(views, &booking.SlotView{
			ID:               row.ID,
			CourseID:         row.CourseID,
			CourseName:       row.CourseName,
			Type:             booking.CapacityType(row.CapacityType),
			TimeStart:        row.TimeStart,
			TimeEnd:          row.TimeEnd,
			ResNow:           row.ResNow,
			ResMax:           row.ResMax,
			InstructorName:   row.InstructorName,
			LocationName:     row.LocationName,
			ReservedUserIDs:  []string(row.ReservedUserIDs),
			ReservedGroupIDs: []string(row.ReservedGroupIDs),
		})
	}
	return views, nil
}
