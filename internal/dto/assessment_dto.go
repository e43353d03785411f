package dto

import (
	"sort"
	"time"

	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/placement"
)

// Question kinds exposed to clients.
const (
	QuestionTypeWarmup         = "warmup"
	QuestionTypeMultipleChoice = "multiple_choice"
	QuestionTypeFreeResponse   = "free_response"
)

// StartAssessmentRequest begins or resumes a placement assessment.
type StartAssessmentRequest struct {
	UserID      *uint  `json:"userId" validate:"omitempty,gt=0"`
	SessionID   string `json:"sessionId" validate:"omitempty,max=128"`
	DisplayName string `json:"displayName" validate:"omitempty,max=120"`
	Grade       *int   `json:"grade" validate:"omitempty,min=0,max=12"`
	State       string `json:"state" validate:"omitempty,max=32"`
}

// StartAssessmentResponse is returned by the start endpoint.
type StartAssessmentResponse struct {
	AssessmentID     string           `json:"assessmentId"`
	FirstQuestion    *QuestionPayload `json:"firstQuestion,omitempty"`
	Resumed          bool             `json:"resumed,omitempty"`
	AlreadyCompleted bool             `json:"alreadyCompleted,omitempty"`
}

// QuestionOption is one choice of a multiple choice question.
type QuestionOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// QuestionPayload is a prompt shown to the learner. It never carries the answer key.
type QuestionPayload struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Subject          string           `json:"subject,omitempty"`
	SubjectTitle     string           `json:"subjectTitle,omitempty"`
	Prompt           string           `json:"prompt"`
	Options          []QuestionOption `json:"options,omitempty"`
	EstimatedSeconds int              `json:"estimatedSeconds,omitempty"`
	Number           int              `json:"number,omitempty"`
	OutOf            int              `json:"outOf,omitempty"`
}

// NewQuestionPayload converts a bank question for display.
func NewQuestionPayload(question models.Question, number, outOf int) QuestionPayload {
	options := question.Options.Data()
	payload := QuestionPayload{
		ID:               question.ID,
		Type:             QuestionTypeFreeResponse,
		Subject:          string(question.Subject),
		SubjectTitle:     question.Subject.Title(),
		Prompt:           question.Prompt,
		EstimatedSeconds: question.EstimatedSeconds,
		Number:           number,
		OutOf:            outOf,
	}

	if len(options) > 0 {
		payload.Type = QuestionTypeMultipleChoice
		keys := make([]string, 0, len(options))
		for key := range options {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			payload.Options = append(payload.Options, QuestionOption{Key: key, Text: options[key]})
		}
	}

	return payload
}

// NextQuestionResponse is exactly one of a question, a subject transition or completion.
type NextQuestionResponse struct {
	Question    *QuestionPayload `json:"question,omitempty"`
	Transition  bool             `json:"transition,omitempty"`
	NextSubject string           `json:"nextSubject,omitempty"`
	Complete    bool             `json:"complete,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// SubmitAnswerRequest records the learner's answer to a served prompt.
type SubmitAnswerRequest struct {
	AssessmentID string `json:"assessmentId" validate:"required,uuid"`
	QuestionID   string `json:"questionId" validate:"required,max=64"`
	Answer       string `json:"answer" validate:"required,max=2000"`
	TimeSpent    int    `json:"timeSpent" validate:"min=0,max=86400"`
	SessionID    string `json:"sessionId" validate:"omitempty,max=128"`
}

// SubmitAnswerResponse acknowledges an answer without revealing correctness.
type SubmitAnswerResponse struct {
	Recorded bool `json:"recorded"`
}

// CompleteAssessmentRequest finalises an assessment.
type CompleteAssessmentRequest struct {
	AssessmentID string `json:"assessmentId" validate:"required,uuid"`
	SessionID    string `json:"sessionId" validate:"omitempty,max=128"`
}

// CompleteAssessmentResponse carries the synthesized placements.
type CompleteAssessmentResponse struct {
	Completed       bool                                             `json:"completed"`
	Placements      map[placement.Subject]placement.SubjectPlacement `json:"placements"`
	Message         string                                           `json:"message"`
	RemediationPlan *string                                          `json:"remediationPlan"`
}

// ReportQuery selects a placement report by assessment or by user.
type ReportQuery struct {
	AssessmentID string `query:"assessmentId" validate:"omitempty,uuid"`
	UserID       uint   `query:"userId"`
	SessionID    string `query:"sessionId" validate:"omitempty,max=128"`
}

// PlacementReportResponse is the placement report of a completed assessment.
type PlacementReportResponse struct {
	AssessmentID    string                                           `json:"assessmentId"`
	StudentID       *uint                                            `json:"studentId,omitempty"`
	DisplayName     string                                           `json:"displayName,omitempty"`
	DeclaredGrade   int                                              `json:"declaredGrade"`
	CompletedAt     *time.Time                                       `json:"completedAt"`
	Subjects        []placement.Subject                              `json:"subjects"`
	Placements      map[placement.Subject]placement.SubjectPlacement `json:"placements"`
	Strengths       []placement.Subject                              `json:"strengths"`
	GrowthAreas     []placement.Subject                              `json:"growthAreas"`
	TotalAnswered   int                                              `json:"totalAnswered"`
	OverallAccuracy float64                                          `json:"overallAccuracy"`
	Summary         string                                           `json:"summary"`
	RemediationPlan *string                                          `json:"remediationPlan"`
}

// NewPlacementReportResponse combines a session with its synthesized report.
func NewPlacementReportResponse(session models.AssessmentSession, report placement.Report) PlacementReportResponse {
	subjects := make([]placement.Subject, 0, len(report.Placements))
	for _, item := range report.Placements {
		subjects = append(subjects, item.Subject)
	}

	strengths := report.Strengths
	if strengths == nil {
		strengths = []placement.Subject{}
	}
	growth := report.GrowthAreas
	if growth == nil {
		growth = []placement.Subject{}
	}

	return PlacementReportResponse{
		AssessmentID:    session.ID,
		StudentID:       session.StudentID,
		DisplayName:     session.DisplayName,
		DeclaredGrade:   report.DeclaredGrade,
		CompletedAt:     session.CompletedAt,
		Subjects:        subjects,
		Placements:      report.BySubject(),
		Strengths:       strengths,
		GrowthAreas:     growth,
		TotalAnswered:   report.TotalAnswered,
		OverallAccuracy: report.OverallAccuracy,
		Summary:         report.Summary,
		RemediationPlan: session.RemediationPlan,
	}
}

// ClaimAssessmentRequest links an anonymous visitor's sessions to the signed-in student.
type ClaimAssessmentRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
}

// ClaimAssessmentResponse lists the sessions that changed owner.
type ClaimAssessmentResponse struct {
	Claimed       int      `json:"claimed"`
	AssessmentIDs []string `json:"assessmentIds"`
}

// AssessmentEventListRequest pages through a session's audit trail.
type AssessmentEventListRequest struct {
	AssessmentID string `query:"assessmentId" validate:"required,uuid"`
	SessionID    string `query:"sessionId" validate:"omitempty,max=128"`
	Page         int    `query:"page" validate:"omitempty,min=1"`
	PageSize     int    `query:"pageSize" validate:"omitempty,min=1,max=100"`
}

// AssessmentEventResponse is one audit entry.
type AssessmentEventResponse struct {
	ID        uint                   `json:"id"`
	Action    string                 `json:"action"`
	ActorID   *uint                  `json:"actorId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NewAssessmentEventResponse maps the model to its API representation.
func NewAssessmentEventResponse(event models.AssessmentEvent) AssessmentEventResponse {
	return AssessmentEventResponse{
		ID:        event.ID,
		Action:    event.Action,
		ActorID:   event.ActorID,
		Metadata:  map[string]interface{}(event.Metadata),
		CreatedAt: event.CreatedAt,
	}
}

// AssessmentEventListResponse wraps paginated audit entries.
type AssessmentEventListResponse struct {
	Items      []AssessmentEventResponse `json:"items"`
	Pagination PaginationMeta            `json:"pagination"`
}

// QuestionSeedItem is one authored question in a bank import.
type QuestionSeedItem struct {
	ID               string            `json:"id" validate:"required,max=64"`
	Subject          string            `json:"subject" validate:"required,oneof=math reading science hebrew"`
	Skill            string            `json:"skill" validate:"omitempty,max=64"`
	GradeLevel       int               `json:"gradeLevel" validate:"min=0,max=12"`
	Prompt           string            `json:"prompt" validate:"required"`
	Options          map[string]string `json:"options"`
	CorrectAnswer    string            `json:"correctAnswer" validate:"required,max=255"`
	EstimatedSeconds int               `json:"estimatedSeconds" validate:"omitempty,min=1,max=3600"`
}

// QuestionSeedRequest is the body of the question bank import endpoint.
type QuestionSeedRequest struct {
	Questions []QuestionSeedItem `json:"questions" validate:"required,min=1,dive"`
}

// SeedResponse reports how many rows an import touched.
type SeedResponse struct {
	Affected int64 `json:"affected"`
}
