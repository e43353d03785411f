package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/adeline-api/internal/models"
)

// AssessmentResponseRepository persists scored answers. Rows are append-only.
type AssessmentResponseRepository interface {
	Create(ctx context.Context, response *models.AssessmentResponse) error
	ListBySession(ctx context.Context, assessmentID string) ([]models.AssessmentResponse, error)
	Exists(ctx context.Context, assessmentID, questionID string) (bool, error)
}

type assessmentResponseRepository struct {
	storage
}

// NewAssessmentResponseRepository constructs the response repository.
func NewAssessmentResponseRepository(db *gorm.DB, timeout time.Duration) AssessmentResponseRepository {
	return &assessmentResponseRepository{storage: newStorage(db, timeout)}
}

func (r *assessmentResponseRepository) Create(ctx context.Context, response *models.AssessmentResponse) error {
	return r.run(ctx, func(tx *gorm.DB) error {
		return tx.Create(response).Error
	})
}

func (r *assessmentResponseRepository) ListBySession(ctx context.Context, assessmentID string) ([]models.AssessmentResponse, error) {
	var responses []models.AssessmentResponse
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.Where("assessment_id = ?", assessmentID).Order("id ASC").Find(&responses).Error
	})
	return responses, err
}

func (r *assessmentResponseRepository) Exists(ctx context.Context, assessmentID, questionID string) (bool, error) {
	var count int64
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.AssessmentResponse{}).
			Where("assessment_id = ? AND question_id = ?", assessmentID, questionID).
			Count(&count).Error
	})
	return count > 0, err
}
