package repository

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/placement"
)

// QuestionRepository reads the question bank.
type QuestionRepository interface {
	FindByID(ctx context.Context, id string) (models.Question, error)
	FindForSubject(ctx context.Context, subject placement.Subject, level int, excludeIDs []string) (models.Question, error)
	LevelsForSubject(ctx context.Context, subject placement.Subject, excludeIDs []string) ([]int, error)
	UpsertBatch(ctx context.Context, items []models.Question) (int64, error)
}

type questionRepository struct {
	storage
}

// NewQuestionRepository constructs a question bank repository.
func NewQuestionRepository(db *gorm.DB, timeout time.Duration) QuestionRepository {
	return &questionRepository{storage: newStorage(db, timeout)}
}

func (r *questionRepository) FindByID(ctx context.Context, id string) (models.Question, error) {
	var question models.Question
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.First(&question, "id = ?", id).Error
	})
	return question, err
}

func (r *questionRepository) FindForSubject(ctx context.Context, subject placement.Subject, level int, excludeIDs []string) (models.Question, error) {
	var question models.Question
	err := r.run(ctx, func(tx *gorm.DB) error {
		query := tx.Where("subject = ? AND grade_level = ?", subject, level)
		if len(excludeIDs) > 0 {
			query = query.Where("id NOT IN ?", excludeIDs)
		}
		return query.Order("id ASC").First(&question).Error
	})
	return question, err
}

func (r *questionRepository) LevelsForSubject(ctx context.Context, subject placement.Subject, excludeIDs []string) ([]int, error) {
	var levels []int
	err := r.run(ctx, func(tx *gorm.DB) error {
		query := tx.Model(&models.Question{}).Where("subject = ?", subject)
		if len(excludeIDs) > 0 {
			query = query.Where("id NOT IN ?", excludeIDs)
		}
		return query.Distinct().Pluck("grade_level", &levels).Error
	})
	if err != nil {
		return nil, err
	}
	sort.Ints(levels)
	return levels, nil
}

func (r *questionRepository) UpsertBatch(ctx context.Context, items []models.Question) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var affected int64
	err := r.run(ctx, func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "skill", "grade_level", "prompt", "options", "correct_answer", "estimated_seconds", "updated_at"}),
		}).Create(&items)
		affected = result.RowsAffected
		return result.Error
	})
	return affected, err
}
