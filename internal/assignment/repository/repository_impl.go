package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/assignment/domain"
	"gorm.io/gorm"
)

const assignmentColumns = `id, client_id, writer_id, title, description, client_price, writer_price,
	status, report_status, report_file, payment_method, payment_status, payment_proof,
	payment_reference_id, attachments, completed_files, payout_status, payout_proof,
	payout_reference_id, paid_out_at, version, created_at, updated_at, completed_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *domain.Assignment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO assignments (`+assignmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.ClientID,
		a.WriterID,
		a.Title,
		a.Description,
		a.ClientPrice,
		a.WriterPrice,
		a.Status,
		a.ReportStatus,
		a.ReportFile,
		a.PaymentMethod,
		a.PaymentStatus,
		a.PaymentProof,
		a.PaymentReferenceID,
		a.Attachments,
		a.CompletedFiles,
		a.PayoutStatus,
		a.PayoutProof,
		a.PayoutReferenceID,
		a.PaidOutAt,
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
		a.CompletedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Assignment, error) {
	var a domain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`,
		id,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.Assignment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []*domain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+` FROM assignments WHERE id IN ? ORDER BY id`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Assignment, error) {
	var items []*domain.Assignment
	stmt := db.WithContext(ctx).Model(&domain.Assignment{})
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.WriterID != nil {
		stmt = stmt.Where("writer_id = ?", *filter.WriterID)
	}
	if filter.Before != nil {
		stmt = stmt.Where("id < ?", *filter.Before)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, a *domain.Assignment, expectedVersion int64) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE assignments SET
			writer_id = ?, client_price = ?, writer_price = ?, status = ?, report_status = ?,
			report_file = ?, payment_method = ?, payment_status = ?, payment_proof = ?,
			payment_reference_id = ?, completed_files = ?, payout_status = ?, payout_proof = ?,
			payout_reference_id = ?, paid_out_at = ?, version = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND version = ?`,
		a.WriterID,
		a.ClientPrice,
		a.WriterPrice,
		a.Status,
		a.ReportStatus,
		a.ReportFile,
		a.PaymentMethod,
		a.PaymentStatus,
		a.PaymentProof,
		a.PaymentReferenceID,
		a.CompletedFiles,
		a.PayoutStatus,
		a.PayoutProof,
		a.PayoutReferenceID,
		a.PaidOutAt,
		a.Version,
		a.UpdatedAt,
		a.CompletedAt,
		a.ID,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *repo) InsertTransition(ctx context.Context, db *gorm.DB, t *domain.Transition) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO assignment_transitions (
			id, assignment_id, action, from_status, to_status, actor_id, actor_role, version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.AssignmentID,
		t.Action,
		t.FromStatus,
		t.ToStatus,
		t.ActorID,
		t.ActorRole,
		t.Version,
		t.CreatedAt,
	).Error
}

func (r *repo) ListTransitions(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) ([]*domain.Transition, error) {
	var items []*domain.Transition
	err := db.WithContext(ctx).Raw(
		`SELECT id, assignment_id, action, from_status, to_status, actor_id, actor_role, version, created_at
		 FROM assignment_transitions
		 WHERE assignment_id = ?
		 ORDER BY version ASC, id ASC`,
		assignmentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListForLedger(ctx context.Context, db *gorm.DB, filter domain.LedgerFilter) ([]*domain.Assignment, error) {
	var items []*domain.Assignment
	stmt := db.WithContext(ctx).Model(&domain.Assignment{}).
		Where("writer_id IS NOT NULL AND writer_price IS NOT NULL")
	if filter.WriterID != nil {
		stmt = stmt.Where("writer_id = ?", *filter.WriterID)
	}
	if len(filter.IDs) > 0 {
		stmt = stmt.Where("id IN ?", filter.IDs)
	}
	if err := stmt.Order("writer_id asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListWriterIDs(ctx context.Context, db *gorm.DB, since *time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	stmt := db.WithContext(ctx).Model(&domain.Assignment{}).
		Distinct("writer_id").
		Where("writer_id IS NOT NULL AND writer_price IS NOT NULL")
	if since != nil {
		stmt = stmt.Where("updated_at >= ?", since.UTC())
	}
	if err := stmt.Order("writer_id asc").Pluck("writer_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
