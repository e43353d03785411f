package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/adeline-api/internal/dto"
	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/observability"
	"github.com/noah-isme/adeline-api/internal/placement"
	"github.com/noah-isme/adeline-api/internal/repository"
	"github.com/noah-isme/adeline-api/pkg/ai"
)

// Requester is the identity behind a call: an authenticated user, an anonymous visitor, or both.
type Requester struct {
	UserID      *uint
	Role        string
	AnonymousID string
}

func (r Requester) identified() bool {
	return r.UserID != nil || strings.TrimSpace(r.AnonymousID) != ""
}

// Parents, teachers and admins may read student-owned assessments.
func (r Requester) privileged() bool {
	switch strings.ToLower(strings.TrimSpace(r.Role)) {
	case "parent", "teacher", "admin":
		return true
	default:
		return false
	}
}

func (r Requester) withAnonymous(sessionID string) Requester {
	if strings.TrimSpace(r.AnonymousID) == "" {
		r.AnonymousID = strings.TrimSpace(sessionID)
	}
	return r
}

func (r Requester) canAccess(session models.AssessmentSession) bool {
	if session.StudentID != nil {
		return r.UserID != nil && (*r.UserID == *session.StudentID || r.privileged())
	}
	if session.AnonymousID != nil {
		return r.AnonymousID != "" && r.AnonymousID == *session.AnonymousID
	}
	return false
}

// AssessmentConfig tunes the placement flow.
type AssessmentConfig struct {
	QuestionsPerSubject int
	WarmupTurns         int
	RetestAfter         time.Duration
	MaxCASRetries       int
	DefaultGrade        int
	Difficulty          placement.DifficultyConfig
	ReportCacheTTL      time.Duration
	PlanTimeout         time.Duration
	Curriculum          []placement.Subject
}

func (c AssessmentConfig) withDefaults() AssessmentConfig {
	if c.QuestionsPerSubject <= 0 {
		c.QuestionsPerSubject = 3
	}
	if c.WarmupTurns < 0 {
		c.WarmupTurns = 0
	}
	if c.RetestAfter <= 0 {
		c.RetestAfter = 30 * 24 * time.Hour
	}
	if c.MaxCASRetries <= 0 {
		c.MaxCASRetries = 5
	}
	if c.DefaultGrade <= 0 {
		c.DefaultGrade = 5
	}
	if c.PlanTimeout <= 0 {
		c.PlanTimeout = 20 * time.Second
	}
	if len(c.Curriculum) == 0 {
		c.Curriculum = placement.DefaultCurriculum()
	}
	c.Difficulty = c.Difficulty.Normalize()
	return c
}

// AssessmentDependencies wires the collaborators of the assessment service.
type AssessmentDependencies struct {
	Questions repository.QuestionRepository
	Sessions  repository.AssessmentSessionRepository
	Responses repository.AssessmentResponseRepository
	Events    repository.AssessmentEventRepository
	Planner   ai.Generator
	Publisher EventPublisher
	Cache     *redis.Client
	Validator *validator.Validate
	Config    AssessmentConfig
	Logger    zerolog.Logger
}

// NextQuestionResult is the outcome of a next-question call. Transitioned is
// true only for the call whose write applied a subject or completion transition.
type NextQuestionResult struct {
	dto.NextQuestionResponse
	Transitioned bool
}

// ReportExport is a rendered report download.
type ReportExport struct {
	Filename    string
	ContentType string
	Content     []byte
}

// AssessmentService drives the placement assessment state machine.
type AssessmentService interface {
	Start(ctx context.Context, requester Requester, payload dto.StartAssessmentRequest) (dto.StartAssessmentResponse, error)
	NextQuestion(ctx context.Context, requester Requester, assessmentID string) (NextQuestionResult, error)
	RecordAnswer(ctx context.Context, requester Requester, payload dto.SubmitAnswerRequest) (dto.SubmitAnswerResponse, error)
	Complete(ctx context.Context, requester Requester, payload dto.CompleteAssessmentRequest) (dto.CompleteAssessmentResponse, error)
	Report(ctx context.Context, requester Requester, query dto.ReportQuery) (dto.PlacementReportResponse, error)
	ExportReport(ctx context.Context, requester Requester, query dto.ReportQuery) (ReportExport, error)
	Claim(ctx context.Context, requester Requester, payload dto.ClaimAssessmentRequest) (dto.ClaimAssessmentResponse, error)
	Events(ctx context.Context, requester Requester, req dto.AssessmentEventListRequest) (dto.AssessmentEventListResponse, error)
}

type assessmentService struct {
	questions repository.QuestionRepository
	sessions  repository.AssessmentSessionRepository
	responses repository.AssessmentResponseRepository
	events    repository.AssessmentEventRepository
	planner   ai.Generator
	publisher EventPublisher
	cache     reportCache
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	cfg       AssessmentConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAssessmentService constructs the assessment service.
func NewAssessmentService(deps AssessmentDependencies) AssessmentService {
	logger := deps.Logger.With().Str("component", "assessment_service").Logger()
	validate := deps.Validator
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &assessmentService{
		questions: deps.Questions,
		sessions:  deps.Sessions,
		responses: deps.Responses,
		events:    deps.Events,
		planner:   deps.Planner,
		publisher: deps.Publisher,
		cache:     newReportCache(deps.Cache, deps.Config.ReportCacheTTL, logger),
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		cfg:       deps.Config.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer("github.com/noah-isme/adeline-api/internal/service/assessment"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *assessmentService) Start(ctx context.Context, requester Requester, payload dto.StartAssessmentRequest) (dto.StartAssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.StartAssessmentResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	owner, err := resolveOwner(requester.withAnonymous(payload.SessionID), payload.UserID)
	if err != nil {
		return dto.StartAssessmentResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "assessment.start", trace.WithAttributes(
		attribute.Bool("assessment.anonymous", owner.StudentID == nil),
	))
	defer span.End()

	completed, err := s.sessions.FindLatestForOwner(ctx, owner, placement.StatusCompleted)
	switch {
	case err == nil:
		if completed.CompletedAt != nil && s.now().Sub(*completed.CompletedAt) < s.cfg.RetestAfter {
			return dto.StartAssessmentResponse{AssessmentID: completed.ID, AlreadyCompleted: true}, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		span.RecordError(err)
		return dto.StartAssessmentResponse{}, storageError(err)
	}

	active, err := s.sessions.FindLatestForOwner(ctx, owner, placement.StatusInProgress)
	switch {
	case err == nil:
		return s.resume(ctx, active, requester.UserID)
	case !errors.Is(err, repository.ErrNotFound):
		span.RecordError(err)
		return dto.StartAssessmentResponse{}, storageError(err)
	}

	session := s.newSession(owner, payload)
	if err := s.sessions.Create(ctx, &session); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			span.RecordError(err)
			return dto.StartAssessmentResponse{}, storageError(err)
		}
		// a concurrent start won the owner's in-progress slot
		active, err := s.sessions.FindLatestForOwner(ctx, owner, placement.StatusInProgress)
		if err != nil {
			span.RecordError(err)
			return dto.StartAssessmentResponse{}, storageError(err)
		}
		return s.resume(ctx, active, requester.UserID)
	}

	s.recordEvent(ctx, session.ID, models.EventAssessmentStarted, requester.UserID, map[string]interface{}{
		"declared_grade": session.DeclaredGrade,
		"subjects":       session.Subjects,
	})
	s.logger.Info().Str("assessment_id", session.ID).Int("declared_grade", session.DeclaredGrade).Msg("assessment started")

	prompt, err := s.resumePrompt(ctx, session, requester.UserID)
	if err != nil {
		return dto.StartAssessmentResponse{}, err
	}

	return dto.StartAssessmentResponse{AssessmentID: session.ID, FirstQuestion: prompt}, nil
}

func (s *assessmentService) resume(ctx context.Context, active models.AssessmentSession, actorID *uint) (dto.StartAssessmentResponse, error) {
	prompt, err := s.resumePrompt(ctx, active, actorID)
	if err != nil {
		return dto.StartAssessmentResponse{}, err
	}
	s.recordEvent(ctx, active.ID, models.EventAssessmentResumed, actorID, nil)
	return dto.StartAssessmentResponse{AssessmentID: active.ID, Resumed: true, FirstQuestion: prompt}, nil
}

func resolveOwner(requester Requester, bodyUserID *uint) (repository.SessionOwner, error) {
	if bodyUserID != nil {
		if requester.UserID == nil {
			return repository.SessionOwner{}, ErrAuthenticationRequired
		}
		if *bodyUserID != *requester.UserID && !requester.privileged() {
			return repository.SessionOwner{}, ErrForbiddenIdentity
		}
		id := *bodyUserID
		return repository.SessionOwner{StudentID: &id}, nil
	}

	if requester.UserID != nil {
		id := *requester.UserID
		return repository.SessionOwner{StudentID: &id}, nil
	}

	if anonymous := strings.TrimSpace(requester.AnonymousID); anonymous != "" {
		return repository.SessionOwner{AnonymousID: anonymous}, nil
	}

	return repository.SessionOwner{}, ErrIdentityMissing
}

func (s *assessmentService) newSession(owner repository.SessionOwner, payload dto.StartAssessmentRequest) models.AssessmentSession {
	grade := s.cfg.DefaultGrade
	if payload.Grade != nil {
		grade = *payload.Grade
	}

	phase := placement.PhaseWarmup
	if s.cfg.WarmupTurns == 0 {
		phase = placement.PhaseSubjectTesting
	}

	session := models.AssessmentSession{
		ID:            uuid.NewString(),
		StudentID:     owner.StudentID,
		DisplayName:   strings.TrimSpace(s.sanitizer.Sanitize(payload.DisplayName)),
		State:         strings.ToUpper(strings.TrimSpace(s.sanitizer.Sanitize(payload.State))),
		DeclaredGrade: grade,
		Status:        placement.StatusInProgress,
		Phase:         phase,
		Subjects:      append(datatypes.JSONSlice[placement.Subject]{}, s.cfg.Curriculum...),
		StartedAt:     s.now(),
	}
	if owner.AnonymousID != "" {
		anonymous := owner.AnonymousID
		session.AnonymousID = &anonymous
	}
	return session
}

// resumePrompt returns what the learner should see next without skipping anything already served.
func (s *assessmentService) resumePrompt(ctx context.Context, session models.AssessmentSession, actorID *uint) (*dto.QuestionPayload, error) {
	switch session.Phase {
	case placement.PhaseWarmup:
		prompt := warmupPrompt(session.WarmupTurns)
		return &prompt, nil
	case placement.PhaseComplete:
		return nil, nil
	}

	pending, err := s.pendingQuestion(ctx, session)
	if err != nil || pending != nil {
		return pending, err
	}

	result, err := s.advance(ctx, session, actorID)
	if err != nil {
		return nil, err
	}
	return result.Question, nil
}

// pendingQuestion returns the last served question when it has not been answered yet.
func (s *assessmentService) pendingQuestion(ctx context.Context, session models.AssessmentSession) (*dto.QuestionPayload, error) {
	if len(session.ServedQuestions) == 0 {
		return nil, nil
	}

	last := session.ServedQuestions[len(session.ServedQuestions)-1]
	answered, err := s.responses.Exists(ctx, session.ID, last.QuestionID)
	if err != nil {
		return nil, storageError(err)
	}
	if answered {
		return nil, nil
	}

	question, err := s.questions.FindByID(ctx, last.QuestionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err)
	}

	payload := dto.NewQuestionPayload(question, len(session.ServedIn(last.Subject)), s.cfg.QuestionsPerSubject)
	return &payload, nil
}

func (s *assessmentService) loadOwned(ctx context.Context, requester Requester, assessmentID string) (models.AssessmentSession, error) {
	if !requester.identified() {
		return models.AssessmentSession{}, ErrIdentityMissing
	}

	if _, err := uuid.Parse(assessmentID); err != nil {
		return models.AssessmentSession{}, ErrSessionNotFound
	}

	session, err := s.sessions.FindByID(ctx, assessmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.AssessmentSession{}, ErrSessionNotFound
	}
	if err != nil {
		return models.AssessmentSession{}, storageError(err)
	}

	if !requester.canAccess(session) {
		return models.AssessmentSession{}, ErrSessionNotFound
	}

	return session, nil
}

// withVersionRetry runs attempt against the freshest session until its versioned
// write lands, the attempt fails for another reason, or retries run out.
func (s *assessmentService) withVersionRetry(ctx context.Context, operation string, session models.AssessmentSession, attempt func(current models.AssessmentSession) error) error {
	for try := 1; ; try++ {
		err := attempt(session)
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}

		observability.VersionConflicts().WithLabelValues(operation).Inc()
		if try >= s.cfg.MaxCASRetries {
			s.logger.Warn().Str("assessment_id", session.ID).Str("operation", operation).Int("attempts", try).Msg("giving up after version conflicts")
			return ErrConcurrentUpdate
		}

		reloaded, err := s.sessions.FindByID(ctx, session.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSessionNotFound
			}
			return storageError(err)
		}
		session = reloaded
	}
}

func (s *assessmentService) recordEvent(ctx context.Context, assessmentID, action string, actorID *uint, metadata map[string]interface{}) {
	if s.events == nil {
		return
	}

	entry := models.AssessmentEvent{
		AssessmentID: assessmentID,
		Action:       action,
		ActorID:      actorID,
		Metadata:     datatypes.JSONMap(metadata),
	}
	if entry.Metadata == nil {
		entry.Metadata = datatypes.JSONMap{}
	}

	if err := s.events.Create(ctx, &entry); err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", assessmentID).Str("action", action).Msg("failed to persist assessment event")
	}
}
