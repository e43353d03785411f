package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/adeline-api/internal/dto"
	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/observability"
	"github.com/noah-isme/adeline-api/internal/placement"
	"github.com/noah-isme/adeline-api/internal/repository"
)

const (
	warmupPrefix       = "warmup-"
	maxStoredReplySize = 500
)

var warmupPrompts = []string{
	"Before we start, tell me a little about yourself. What do you enjoy learning about most?",
	"What is something you have been curious about lately?",
	"If you could spend a whole day on one project, what would it be?",
}

func warmupPromptID(turn int) string {
	return warmupPrefix + strconv.Itoa(turn+1)
}

func warmupPrompt(turn int) dto.QuestionPayload {
	return dto.QuestionPayload{
		ID:     warmupPromptID(turn),
		Type:   dto.QuestionTypeWarmup,
		Prompt: warmupPrompts[turn%len(warmupPrompts)],
	}
}

func isWarmupPrompt(questionID string) bool {
	return strings.HasPrefix(questionID, warmupPrefix)
}

func completionMessage() string {
	return "That's everything! Submit your assessment to see where you shine."
}

func transitionMessage(from, next placement.Subject) string {
	if from == "" {
		return fmt.Sprintf("Let's explore some %s questions next.", next.Title())
	}
	return fmt.Sprintf("Great work on %s! Next, let's explore some %s questions.", from.Title(), next.Title())
}

func (s *assessmentService) NextQuestion(ctx context.Context, requester Requester, assessmentID string) (NextQuestionResult, error) {
	session, err := s.loadOwned(ctx, requester, assessmentID)
	if err != nil {
		return NextQuestionResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "assessment.next_question", trace.WithAttributes(
		attribute.String("assessment.id", session.ID),
		attribute.String("assessment.phase", string(session.Phase)),
	))
	defer span.End()

	result, err := s.advance(ctx, session, requester.UserID)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (s *assessmentService) advance(ctx context.Context, session models.AssessmentSession, actorID *uint) (NextQuestionResult, error) {
	var result NextQuestionResult
	err := s.withVersionRetry(ctx, "next_question", session, func(current models.AssessmentSession) error {
		outcome, err := s.step(ctx, current, actorID)
		if err != nil {
			return err
		}
		result = outcome
		return nil
	})
	return result, err
}

// step decides a single state machine move for the session as loaded.
func (s *assessmentService) step(ctx context.Context, session models.AssessmentSession, actorID *uint) (NextQuestionResult, error) {
	switch session.Phase {
	case placement.PhaseComplete:
		return NextQuestionResult{NextQuestionResponse: dto.NextQuestionResponse{Complete: true, Message: completionMessage()}}, nil
	case placement.PhaseWarmup:
		return NextQuestionResult{}, ErrPhaseViolation
	}

	subject, ok := session.CurrentSubject()
	if !ok {
		return s.transition(ctx, session, actorID)
	}

	served := session.ServedIn(subject)
	if len(served) >= s.cfg.QuestionsPerSubject {
		return s.transition(ctx, session, actorID)
	}

	responses, err := s.responses.ListBySession(ctx, session.ID)
	if err != nil {
		return NextQuestionResult{}, storageError(err)
	}

	level := s.cfg.Difficulty.Next(lastAnswered(responses, subject), session.DeclaredGrade)
	question, err := s.pickQuestion(ctx, subject, level, session.ServedIDs())
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info().Str("assessment_id", session.ID).Str("subject", string(subject)).Msg("question bank exhausted for subject")
		return s.transition(ctx, session, actorID)
	}
	if err != nil {
		return NextQuestionResult{}, storageError(err)
	}

	probeUp, probeDown := s.cfg.Difficulty.Probe(question.GradeLevel, session.DeclaredGrade)
	servedQuestions := make(datatypes.JSONSlice[models.ServedQuestion], 0, len(session.ServedQuestions)+1)
	servedQuestions = append(servedQuestions, session.ServedQuestions...)
	session.ServedQuestions = append(servedQuestions, models.ServedQuestion{
		QuestionID: question.ID,
		Subject:    subject,
		Difficulty: question.GradeLevel,
		ProbeUp:    probeUp,
		ProbeDown:  probeDown,
		ServedAt:   s.now(),
	})

	if err := s.sessions.CompareAndSwap(ctx, &session); err != nil {
		return NextQuestionResult{}, storageError(err)
	}

	s.recordEvent(ctx, session.ID, models.EventQuestionServed, actorID, map[string]interface{}{
		"question_id": question.ID,
		"subject":     subject,
		"difficulty":  question.GradeLevel,
		"probe_up":    probeUp,
		"probe_down":  probeDown,
	})
	observability.QuestionsServed().WithLabelValues(string(subject)).Inc()

	payload := dto.NewQuestionPayload(question, len(served)+1, s.cfg.QuestionsPerSubject)
	return NextQuestionResult{NextQuestionResponse: dto.NextQuestionResponse{Question: &payload}}, nil
}

// transition moves past the current subject, completing the session after the last one.
func (s *assessmentService) transition(ctx context.Context, session models.AssessmentSession, actorID *uint) (NextQuestionResult, error) {
	from, _ := session.CurrentSubject()

	session.CurrentSubjectIndex++
	next, more := session.CurrentSubject()
	if !more {
		if !session.Phase.CanAdvanceTo(placement.PhaseComplete) {
			return NextQuestionResult{}, ErrPhaseViolation
		}
		session.CurrentSubjectIndex = len(session.Subjects)
		session.Phase = placement.PhaseComplete
	}

	if err := s.sessions.CompareAndSwap(ctx, &session); err != nil {
		return NextQuestionResult{}, storageError(err)
	}

	if !more {
		s.recordEvent(ctx, session.ID, models.EventPhaseCompleted, actorID, map[string]interface{}{"last_subject": from})
		observability.PhaseTransitions().WithLabelValues("complete").Inc()
		s.logger.Info().Str("assessment_id", session.ID).Msg("all subjects assessed")
		return NextQuestionResult{
			NextQuestionResponse: dto.NextQuestionResponse{Complete: true, Message: completionMessage()},
			Transitioned:         true,
		}, nil
	}

	s.recordEvent(ctx, session.ID, models.EventSubjectTransitioned, actorID, map[string]interface{}{
		"from": from,
		"to":   next,
	})
	observability.PhaseTransitions().WithLabelValues("subject").Inc()

	return NextQuestionResult{
		NextQuestionResponse: dto.NextQuestionResponse{
			Transition:  true,
			NextSubject: string(next),
			Message:     transitionMessage(from, next),
		},
		Transitioned: true,
	}, nil
}

// pickQuestion prefers the requested level and otherwise falls back to the
// nearest in-bounds level that still has unserved questions, lower on ties.
func (s *assessmentService) pickQuestion(ctx context.Context, subject placement.Subject, level int, exclude []string) (models.Question, error) {
	question, err := s.questions.FindForSubject(ctx, subject, level, exclude)
	if !errors.Is(err, repository.ErrNotFound) {
		return question, err
	}

	levels, err := s.questions.LevelsForSubject(ctx, subject, exclude)
	if err != nil {
		return models.Question{}, err
	}

	nearest, found := nearestLevel(levels, level, s.cfg.Difficulty)
	if !found {
		return models.Question{}, repository.ErrNotFound
	}

	return s.questions.FindForSubject(ctx, subject, nearest, exclude)
}

func nearestLevel(levels []int, target int, cfg placement.DifficultyConfig) (int, bool) {
	best, bestDistance, found := 0, 0, false
	for _, candidate := range levels {
		if candidate < cfg.Min || candidate > cfg.Max {
			continue
		}
		distance := candidate - target
		if distance < 0 {
			distance = -distance
		}
		if !found || distance < bestDistance || (distance == bestDistance && candidate < best) {
			best, bestDistance, found = candidate, distance, true
		}
	}
	return best, found
}

func lastAnswered(responses []models.AssessmentResponse, subject placement.Subject) *placement.AnsweredItem {
	for i := len(responses) - 1; i >= 0; i-- {
		if responses[i].Subject == subject {
			return &placement.AnsweredItem{Difficulty: responses[i].Difficulty, Correct: responses[i].IsCorrect}
		}
	}
	return nil
}

func (s *assessmentService) RecordAnswer(ctx context.Context, requester Requester, payload dto.SubmitAnswerRequest) (dto.SubmitAnswerResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmitAnswerResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	session, err := s.loadOwned(ctx, requester.withAnonymous(payload.SessionID), payload.AssessmentID)
	if err != nil {
		return dto.SubmitAnswerResponse{}, err
	}

	if session.IsCompleted() || session.Phase == placement.PhaseComplete {
		return dto.SubmitAnswerResponse{}, ErrAssessmentComplete
	}

	ctx, span := s.tracer.Start(ctx, "assessment.record_answer", trace.WithAttributes(
		attribute.String("assessment.id", session.ID),
		attribute.String("question.id", payload.QuestionID),
	))
	defer span.End()

	if isWarmupPrompt(payload.QuestionID) {
		if err := s.recordWarmup(ctx, session, payload, requester.UserID); err != nil {
			span.RecordError(err)
			return dto.SubmitAnswerResponse{}, err
		}
		return dto.SubmitAnswerResponse{Recorded: true}, nil
	}

	question, err := s.questions.FindByID(ctx, payload.QuestionID)
	if errors.Is(err, repository.ErrNotFound) {
		return dto.SubmitAnswerResponse{}, ErrQuestionNotFound
	}
	if err != nil {
		span.RecordError(err)
		return dto.SubmitAnswerResponse{}, storageError(err)
	}

	served, ok := session.FindServed(question.ID)
	if !ok {
		return dto.SubmitAnswerResponse{}, ErrQuestionNotServed
	}

	response := models.AssessmentResponse{
		AssessmentID:     session.ID,
		QuestionID:       question.ID,
		Subject:          question.Subject,
		Skill:            question.Skill,
		Answer:           truncate(strings.TrimSpace(s.sanitizer.Sanitize(payload.Answer)), 2000),
		IsCorrect:        placement.Score(question.Scorable(), payload.Answer),
		TimeSpentSeconds: payload.TimeSpent,
		Difficulty:       served.Difficulty,
		ProbeUp:          served.ProbeUp,
		ProbeDown:        served.ProbeDown,
	}

	if err := s.responses.Create(ctx, &response); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return dto.SubmitAnswerResponse{}, ErrAlreadyAnswered
		}
		span.RecordError(err)
		return dto.SubmitAnswerResponse{}, storageError(err)
	}

	s.recordEvent(ctx, session.ID, models.EventAnswerRecorded, requester.UserID, map[string]interface{}{
		"question_id": question.ID,
		"subject":     question.Subject,
		"time_spent":  payload.TimeSpent,
	})
	observability.AnswersRecorded().WithLabelValues(string(question.Subject)).Inc()

	return dto.SubmitAnswerResponse{Recorded: true}, nil
}

// recordWarmup counts an ungraded rapport reply and ends the warmup once enough turns are in.
func (s *assessmentService) recordWarmup(ctx context.Context, session models.AssessmentSession, payload dto.SubmitAnswerRequest, actorID *uint) error {
	turn, err := strconv.Atoi(strings.TrimPrefix(payload.QuestionID, warmupPrefix))
	if err != nil || turn <= 0 {
		return ErrQuestionNotFound
	}

	reply := truncate(strings.TrimSpace(s.sanitizer.Sanitize(payload.Answer)), maxStoredReplySize)

	return s.withVersionRetry(ctx, "warmup", session, func(current models.AssessmentSession) error {
		// replies that arrive after the warmup moved on are acknowledged without effect
		if current.Phase != placement.PhaseWarmup || turn <= current.WarmupTurns {
			return nil
		}
		if turn != current.WarmupTurns+1 {
			return ErrQuestionNotServed
		}

		current.WarmupTurns++
		finished := current.WarmupTurns >= s.cfg.WarmupTurns
		if finished {
			current.Phase = placement.PhaseSubjectTesting
		}

		if err := s.sessions.CompareAndSwap(ctx, &current); err != nil {
			return storageError(err)
		}

		s.recordEvent(ctx, current.ID, models.EventAnswerRecorded, actorID, map[string]interface{}{
			"question_id": payload.QuestionID,
			"warmup":      true,
			"reply":       reply,
		})
		if finished {
			s.recordEvent(ctx, current.ID, models.EventWarmupCompleted, actorID, map[string]interface{}{"turns": current.WarmupTurns})
			observability.PhaseTransitions().WithLabelValues("warmup").Inc()
		}
		return nil
	})
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
