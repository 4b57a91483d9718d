package testkit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TimeAccelerator rewrites stored timestamps so period logic can be
// exercised without waiting for the calendar.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// SetCompletedAt moves an assignment's completion into another period.
func (ta *TimeAccelerator) SetCompletedAt(ctx context.Context, assignmentID snowflake.ID, completedAt time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE assignments SET completed_at = ? WHERE id = ? AND completed_at IS NOT NULL`,
		completedAt.UTC(),
		assignmentID,
	).Error
}

// ShiftCompletions moves every completed assignment of a writer back by d.
func (ta *TimeAccelerator) ShiftCompletions(ctx context.Context, writerID snowflake.ID, d time.Duration) (int64, error) {
	var ids []snowflake.ID
	if err := ta.db.WithContext(ctx).Raw(
		`SELECT id FROM assignments WHERE writer_id = ? AND completed_at IS NOT NULL`,
		writerID,
	).Scan(&ids).Error; err != nil {
		return 0, err
	}
	var moved int64
	for _, id := range ids {
		var completedAt time.Time
		if err := ta.db.WithContext(ctx).Raw(
			`SELECT completed_at FROM assignments WHERE id = ?`, id,
		).Row().Scan(&completedAt); err != nil {
			return moved, err
		}
		if err := ta.SetCompletedAt(ctx, id, completedAt.Add(-d)); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
