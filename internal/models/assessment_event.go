package models

import (
	"time"

	"gorm.io/datatypes"
)

// Assessment lifecycle actions recorded in the event log.
const (
	EventAssessmentStarted   = "started"
	EventAssessmentResumed   = "resumed"
	EventWarmupCompleted     = "warmup_completed"
	EventQuestionServed      = "question_served"
	EventSubjectTransitioned = "subject_transitioned"
	EventPhaseCompleted      = "phase_completed"
	EventAnswerRecorded      = "answer_recorded"
	EventAssessmentCompleted = "completed"
	EventAssessmentClaimed   = "claimed"
)

// AssessmentEvent is an append-only audit entry for an assessment session.
type AssessmentEvent struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	AssessmentID string            `gorm:"size:36;not null;index" json:"assessment_id"`
	Action       string            `gorm:"size:64;not null" json:"action"`
	ActorID      *uint             `json:"actor_id,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}
