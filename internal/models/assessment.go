package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/adeline-api/internal/placement"
)

// ErrAssessmentOwner indicates an assessment does not have exactly one owner identity.
var ErrAssessmentOwner = errors.New("assessment must have exactly one of student id or anonymous id")

// ServedQuestion records a question handed to the learner during an assessment.
type ServedQuestion struct {
	QuestionID string            `json:"question_id"`
	Subject    placement.Subject `json:"subject"`
	Difficulty int               `json:"difficulty"`
	ProbeUp    bool              `json:"probe_up"`
	ProbeDown  bool              `json:"probe_down"`
	ServedAt   time.Time         `json:"served_at"`
}

// AssessmentSession is one learner's attempt at the placement flow.
// An owner holds at most one in-progress session.
type AssessmentSession struct {
	ID                  string                                 `gorm:"primaryKey;size:36" json:"id"`
	StudentID           *uint                                  `gorm:"index;uniqueIndex:idx_session_student_active,where:status = 'in_progress'" json:"student_id,omitempty"`
	AnonymousID         *string                                `gorm:"size:128;index;uniqueIndex:idx_session_anonymous_active,where:status = 'in_progress'" json:"anonymous_id,omitempty"`
	DisplayName         string                                 `gorm:"size:120" json:"display_name"`
	State               string                                 `gorm:"size:32" json:"state"`
	DeclaredGrade       int                                    `gorm:"not null" json:"declared_grade"`
	Status              placement.Status                       `gorm:"size:24;not null;index" json:"status"`
	Phase               placement.Phase                        `gorm:"size:24;not null" json:"phase"`
	Subjects            datatypes.JSONSlice[placement.Subject] `json:"subjects"`
	CurrentSubjectIndex int                                    `gorm:"not null;default:0" json:"current_subject_index"`
	WarmupTurns         int                                    `gorm:"not null;default:0" json:"warmup_turns"`
	ServedQuestions     datatypes.JSONSlice[ServedQuestion]    `json:"served_questions"`
	ReportCache         datatypes.JSON                         `json:"report_cache,omitempty"`
	RemediationPlan     *string                                `gorm:"type:text" json:"remediation_plan,omitempty"`
	Version             int64                                  `gorm:"not null;default:1" json:"version"`
	StartedAt           time.Time                              `json:"started_at"`
	CompletedAt         *time.Time                             `json:"completed_at,omitempty"`
	CreatedAt           time.Time                              `json:"created_at"`
	UpdatedAt           time.Time                              `json:"updated_at"`
}

// BeforeSave enforces the single-owner invariant.
func (a *AssessmentSession) BeforeSave(tx *gorm.DB) error {
	if a.AnonymousID != nil && strings.TrimSpace(*a.AnonymousID) == "" {
		a.AnonymousID = nil
	}
	hasStudent := a.StudentID != nil && *a.StudentID != 0
	hasAnonymous := a.AnonymousID != nil
	if hasStudent == hasAnonymous {
		return ErrAssessmentOwner
	}
	return nil
}

// CurrentSubject returns the subject under test, or false once every subject is exhausted.
func (a AssessmentSession) CurrentSubject() (placement.Subject, bool) {
	if a.CurrentSubjectIndex < 0 || a.CurrentSubjectIndex >= len(a.Subjects) {
		return "", false
	}
	return a.Subjects[a.CurrentSubjectIndex], true
}

// ServedIDs lists every question id served so far.
func (a AssessmentSession) ServedIDs() []string {
	ids := make([]string, 0, len(a.ServedQuestions))
	for _, served := range a.ServedQuestions {
		ids = append(ids, served.QuestionID)
	}
	return ids
}

// ServedIn returns the questions served for a subject, in serve order.
func (a AssessmentSession) ServedIn(subject placement.Subject) []ServedQuestion {
	var result []ServedQuestion
	for _, served := range a.ServedQuestions {
		if served.Subject == subject {
			result = append(result, served)
		}
	}
	return result
}

// FindServed looks up a served question by id.
func (a AssessmentSession) FindServed(questionID string) (ServedQuestion, bool) {
	for _, served := range a.ServedQuestions {
		if served.QuestionID == questionID {
			return served, true
		}
	}
	return ServedQuestion{}, false
}

// IsCompleted reports whether the report has been synthesized for this session.
func (a AssessmentSession) IsCompleted() bool {
	return a.Status == placement.StatusCompleted
}
