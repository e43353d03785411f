package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/placement"
)

// SessionOwner identifies whose sessions to look up. Exactly one field should be set.
type SessionOwner struct {
	StudentID   *uint
	AnonymousID string
}

// AssessmentSessionRepository persists assessment sessions with optimistic versioning.
type AssessmentSessionRepository interface {
	Create(ctx context.Context, session *models.AssessmentSession) error
	FindByID(ctx context.Context, id string) (models.AssessmentSession, error)
	FindLatestForOwner(ctx context.Context, owner SessionOwner, status placement.Status) (models.AssessmentSession, error)
	ListByOwner(ctx context.Context, owner SessionOwner) ([]models.AssessmentSession, error)
	CompareAndSwap(ctx context.Context, session *models.AssessmentSession) error
	UpdatePlan(ctx context.Context, id string, plan string) error
}

type assessmentSessionRepository struct {
	storage
}

// NewAssessmentSessionRepository constructs the session repository.
func NewAssessmentSessionRepository(db *gorm.DB, timeout time.Duration) AssessmentSessionRepository {
	return &assessmentSessionRepository{storage: newStorage(db, timeout)}
}

func (r *assessmentSessionRepository) Create(ctx context.Context, session *models.AssessmentSession) error {
	if session.Version <= 0 {
		session.Version = 1
	}
	return r.run(ctx, func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
}

func (r *assessmentSessionRepository) FindByID(ctx context.Context, id string) (models.AssessmentSession, error) {
	var session models.AssessmentSession
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.First(&session, "id = ?", id).Error
	})
	return session, err
}

func (r *assessmentSessionRepository) FindLatestForOwner(ctx context.Context, owner SessionOwner, status placement.Status) (models.AssessmentSession, error) {
	var session models.AssessmentSession
	err := r.run(ctx, func(tx *gorm.DB) error {
		query, ok := ownerScope(tx, owner)
		if !ok {
			return ErrNotFound
		}
		return query.Where("status = ?", status).Order("started_at DESC, created_at DESC").First(&session).Error
	})
	return session, err
}

func (r *assessmentSessionRepository) ListByOwner(ctx context.Context, owner SessionOwner) ([]models.AssessmentSession, error) {
	var sessions []models.AssessmentSession
	err := r.run(ctx, func(tx *gorm.DB) error {
		query, ok := ownerScope(tx, owner)
		if !ok {
			return nil
		}
		return query.Order("started_at ASC").Find(&sessions).Error
	})
	return sessions, err
}

// CompareAndSwap writes the mutable session fields only if the stored version
// still matches session.Version. On success the in-memory version is bumped.
func (r *assessmentSessionRepository) CompareAndSwap(ctx context.Context, session *models.AssessmentSession) error {
	next := session.Version + 1
	now := time.Now().UTC()

	err := r.run(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.AssessmentSession{}).
			Where("id = ? AND version = ?", session.ID, session.Version).
			UpdateColumns(map[string]interface{}{
				"student_id":            session.StudentID,
				"anonymous_id":          session.AnonymousID,
				"status":                session.Status,
				"phase":                 session.Phase,
				"current_subject_index": session.CurrentSubjectIndex,
				"warmup_turns":          session.WarmupTurns,
				"served_questions":      session.ServedQuestions,
				"report_cache":          session.ReportCache,
				"completed_at":          session.CompletedAt,
				"version":               next,
				"updated_at":            now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	session.Version = next
	session.UpdatedAt = now
	return nil
}

func (r *assessmentSessionRepository) UpdatePlan(ctx context.Context, id string, plan string) error {
	return r.run(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.AssessmentSession{}).Where("id = ?", id).UpdateColumn("remediation_plan", plan)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func ownerScope(tx *gorm.DB, owner SessionOwner) (*gorm.DB, bool) {
	switch {
	case owner.StudentID != nil:
		return tx.Where("student_id = ?", *owner.StudentID), true
	case owner.AnonymousID != "":
		return tx.Where("anonymous_id = ?", owner.AnonymousID), true
	default:
		return tx, false
	}
}
