package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/adeline-api/internal/models"
)

// AssessmentEventFilter narrows audit trail queries.
type AssessmentEventFilter struct {
	AssessmentID string
	Action       string
	ActorID      *uint
	Page         int
	PageSize     int
}

// AssessmentEventRepository persists the assessment audit trail.
type AssessmentEventRepository interface {
	Create(ctx context.Context, entry *models.AssessmentEvent) error
	List(ctx context.Context, filter AssessmentEventFilter) ([]models.AssessmentEvent, int64, error)
}

type assessmentEventRepository struct {
	storage
}

// NewAssessmentEventRepository constructs the audit trail repository.
func NewAssessmentEventRepository(db *gorm.DB, timeout time.Duration) AssessmentEventRepository {
	return &assessmentEventRepository{storage: newStorage(db, timeout)}
}

func (r *assessmentEventRepository) Create(ctx context.Context, entry *models.AssessmentEvent) error {
	return r.run(ctx, func(tx *gorm.DB) error {
		return tx.Create(entry).Error
	})
}

func (r *assessmentEventRepository) List(ctx context.Context, filter AssessmentEventFilter) ([]models.AssessmentEvent, int64, error) {
	var (
		entries []models.AssessmentEvent
		total   int64
	)

	err := r.run(ctx, func(tx *gorm.DB) error {
		query := tx.Model(&models.AssessmentEvent{})

		if filter.AssessmentID != "" {
			query = query.Where("assessment_id = ?", filter.AssessmentID)
		}

		if filter.Action != "" {
			query = query.Where("action = ?", filter.Action)
		}

		if filter.ActorID != nil {
			query = query.Where("actor_id = ?", *filter.ActorID)
		}

		if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			return err
		}

		if filter.PageSize > 0 {
			page := filter.Page
			if page <= 0 {
				page = 1
			}
			query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
		}

		return query.Order("created_at ASC, id ASC").Find(&entries).Error
	})
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
