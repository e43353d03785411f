package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/adeline-api/internal/placement"
)

// Question is an authored placement item. The assessment flow only reads it.
type Question struct {
	ID               string                                `gorm:"primaryKey;size:64" json:"id"`
	Subject          placement.Subject                     `gorm:"size:24;not null;index:idx_question_subject_level" json:"subject"`
	Skill            string                                `gorm:"size:64" json:"skill"`
	GradeLevel       int                                   `gorm:"not null;index:idx_question_subject_level" json:"grade_level"`
	Prompt           string                                `gorm:"type:text;not null" json:"prompt"`
	Options          datatypes.JSONType[map[string]string] `json:"options"`
	CorrectAnswer    string                                `gorm:"size:255;not null" json:"correct_answer"`
	EstimatedSeconds int                                   `gorm:"default:60" json:"estimated_seconds"`
	CreatedAt        time.Time                             `json:"created_at"`
	UpdatedAt        time.Time                             `json:"updated_at"`
}

// BeforeSave normalises question metadata.
func (q *Question) BeforeSave(tx *gorm.DB) error {
	q.ID = strings.TrimSpace(q.ID)
	q.Skill = strings.ToLower(strings.TrimSpace(q.Skill))
	if q.EstimatedSeconds <= 0 {
		q.EstimatedSeconds = 60
	}
	return nil
}

// Scorable returns the grading view of the question.
func (q Question) Scorable() placement.ScorableQuestion {
	return placement.ScorableQuestion{
		Options:       q.Options.Data(),
		CorrectAnswer: q.CorrectAnswer,
	}
}
