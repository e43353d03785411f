package models

import (
	"time"

	"github.com/noah-isme/adeline-api/internal/placement"
)

// AssessmentResponse is a graded answer. Correctness is decided once, at insert.
type AssessmentResponse struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	AssessmentID     string            `gorm:"size:36;not null;uniqueIndex:idx_response_assessment_question" json:"assessment_id"`
	QuestionID       string            `gorm:"size:64;not null;uniqueIndex:idx_response_assessment_question" json:"question_id"`
	Subject          placement.Subject `gorm:"size:24;not null" json:"subject"`
	Skill            string            `gorm:"size:64" json:"skill"`
	Answer           string            `gorm:"type:text" json:"answer"`
	IsCorrect        bool              `gorm:"not null" json:"is_correct"`
	TimeSpentSeconds int               `gorm:"not null;default:0" json:"time_spent_seconds"`
	Difficulty       int               `gorm:"not null" json:"difficulty"`
	ProbeUp          bool              `gorm:"not null;default:false" json:"probe_up"`
	ProbeDown        bool              `gorm:"not null;default:false" json:"probe_down"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Record converts the response into the report synthesizer's input shape.
func (r AssessmentResponse) Record() placement.ResponseRecord {
	return placement.ResponseRecord{
		Subject:          r.Subject,
		Skill:            r.Skill,
		Difficulty:       r.Difficulty,
		Correct:          r.IsCorrect,
		ProbeUp:          r.ProbeUp,
		ProbeDown:        r.ProbeDown,
		TimeSpentSeconds: r.TimeSpentSeconds,
	}
}
