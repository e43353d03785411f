package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
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

const (
	planReadyMessage       = "Assessment complete! Your personalized two-week learning plan is ready."
	planPlaceholderMessage = "Assessment complete! Your personalized learning plan is still being prepared. Check back soon."
	xlsxContentType        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *assessmentService) Complete(ctx context.Context, requester Requester, payload dto.CompleteAssessmentRequest) (dto.CompleteAssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CompleteAssessmentResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	session, err := s.loadOwned(ctx, requester.withAnonymous(payload.SessionID), payload.AssessmentID)
	if err != nil {
		return dto.CompleteAssessmentResponse{}, err
	}
	if session.IsCompleted() {
		return dto.CompleteAssessmentResponse{}, ErrAlreadyCompleted
	}

	ctx, span := s.tracer.Start(ctx, "assessment.complete", trace.WithAttributes(
		attribute.String("assessment.id", session.ID),
	))
	defer span.End()

	var (
		completed models.AssessmentSession
		report    placement.Report
	)
	err = s.withVersionRetry(ctx, "complete", session, func(current models.AssessmentSession) error {
		if current.IsCompleted() {
			return ErrAlreadyCompleted
		}

		// the cutoff is taken before listing so the cached report and later
		// recomputations see the same set of responses
		cutoff := s.now()
		current.CompletedAt = &cutoff

		responses, err := s.responses.ListBySession(ctx, current.ID)
		if err != nil {
			return storageError(err)
		}

		report = placement.Synthesize(reportInput(current, responses), s.cfg.Difficulty)
		encoded, err := json.Marshal(report)
		if err != nil {
			return err
		}

		current.Status = placement.StatusCompleted
		if current.Phase.CanAdvanceTo(placement.PhaseComplete) {
			current.Phase = placement.PhaseComplete
		}
		current.CurrentSubjectIndex = len(current.Subjects)
		current.ReportCache = datatypes.JSON(encoded)

		if err := s.sessions.CompareAndSwap(ctx, &current); err != nil {
			return storageError(err)
		}
		completed = current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return dto.CompleteAssessmentResponse{}, err
	}

	s.recordEvent(ctx, completed.ID, models.EventAssessmentCompleted, requester.UserID, map[string]interface{}{
		"total_answered": report.TotalAnswered,
		"strengths":      report.Strengths,
		"growth_areas":   report.GrowthAreas,
	})

	response := dto.CompleteAssessmentResponse{
		Completed:  true,
		Placements: report.BySubject(),
		Message:    planPlaceholderMessage,
	}

	// the session is already complete here; plan failures only degrade the message
	planOutcome := "fallback"
	plan, err := s.generatePlan(ctx, completed, report)
	if err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", completed.ID).Msg("remediation plan unavailable")
	} else {
		narrative := plan.Narrative()
		if err := s.sessions.UpdatePlan(ctx, completed.ID, narrative); err != nil {
			s.logger.Error().Err(err).Str("assessment_id", completed.ID).Msg("failed to store remediation plan")
		} else {
			planOutcome = "ready"
			response.Message = planReadyMessage
			response.RemediationPlan = &narrative
		}
	}
	observability.Completions().WithLabelValues(planOutcome).Inc()

	s.cache.invalidate(ctx, completed.ID)
	s.publishCompleted(ctx, completed, report, response.RemediationPlan != nil)

	s.logger.Info().
		Str("assessment_id", completed.ID).
		Int("total_answered", report.TotalAnswered).
		Str("plan", planOutcome).
		Msg("assessment completed")

	return response, nil
}

func (s *assessmentService) generatePlan(ctx context.Context, session models.AssessmentSession, report placement.Report) (ai.Plan, error) {
	if s.planner == nil {
		return ai.Plan{}, fmt.Errorf("%w: no text generator configured", ai.ErrUpstreamGeneration)
	}

	planCtx, cancel := context.WithTimeout(ctx, s.cfg.PlanTimeout)
	defer cancel()

	return s.planner.Generate(planCtx, planInput(session, report))
}

func planInput(session models.AssessmentSession, report placement.Report) ai.PlanInput {
	input := ai.PlanInput{
		StudentName:   session.DisplayName,
		DeclaredGrade: report.DeclaredGrade,
		State:         session.State,
		Summary:       report.Summary,
		Subjects:      make([]ai.SubjectOutcome, 0, len(report.Placements)),
		Strengths:     subjectNames(report.Strengths),
		GrowthAreas:   subjectNames(report.GrowthAreas),
	}

	for _, item := range report.Placements {
		if !item.Assessed {
			continue
		}
		input.Subjects = append(input.Subjects, ai.SubjectOutcome{
			Subject:          string(item.Subject),
			Title:            item.Title,
			ComfortableGrade: item.ComfortableGrade,
			Confidence:       string(item.Confidence),
			Accuracy:         item.Accuracy,
			Gaps:             item.Skills.Gap,
			NotIntroduced:    item.Skills.NotIntroduced,
		})
	}

	return input
}

func subjectNames(subjects []placement.Subject) []string {
	names := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		names = append(names, string(subject))
	}
	return names
}

func (s *assessmentService) publishCompleted(ctx context.Context, session models.AssessmentSession, report placement.Report, planReady bool) {
	if s.publisher == nil || session.CompletedAt == nil {
		return
	}

	levels := make(map[string]int, len(report.Placements))
	for _, item := range report.Placements {
		if item.Assessed {
			levels[string(item.Subject)] = item.ComfortableGrade
		}
	}

	event := AssessmentCompletedEvent{
		AssessmentID:  session.ID,
		StudentID:     session.StudentID,
		Anonymous:     session.StudentID == nil,
		DeclaredGrade: session.DeclaredGrade,
		Levels:        levels,
		PlanReady:     planReady,
		CompletedAt:   *session.CompletedAt,
	}

	if err := s.publisher.Publish(ctx, SubjectAssessmentCompleted, event); err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", session.ID).Msg("failed to publish completion event")
	}
}

// reportInput only considers responses recorded up to completion.
func reportInput(session models.AssessmentSession, responses []models.AssessmentResponse) placement.ReportInput {
	records := make([]placement.ResponseRecord, 0, len(responses))
	for _, response := range responses {
		if session.CompletedAt != nil && response.CreatedAt.After(*session.CompletedAt) {
			continue
		}
		records = append(records, response.Record())
	}

	return placement.ReportInput{
		DeclaredGrade: session.DeclaredGrade,
		Subjects:      session.Subjects,
		Responses:     records,
	}
}

func (s *assessmentService) Report(ctx context.Context, requester Requester, query dto.ReportQuery) (dto.PlacementReportResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.PlacementReportResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	session, err := s.reportSession(ctx, requester.withAnonymous(query.SessionID), query)
	if err != nil {
		return dto.PlacementReportResponse{}, err
	}

	if cached, ok := s.cache.fetch(ctx, session.ID); ok {
		return cached, nil
	}

	responses, err := s.responses.ListBySession(ctx, session.ID)
	if err != nil {
		return dto.PlacementReportResponse{}, storageError(err)
	}

	report := placement.Synthesize(reportInput(session, responses), s.cfg.Difficulty)
	result := dto.NewPlacementReportResponse(session, report)
	s.cache.write(ctx, result)

	return result, nil
}

func (s *assessmentService) reportSession(ctx context.Context, requester Requester, query dto.ReportQuery) (models.AssessmentSession, error) {
	if strings.TrimSpace(query.AssessmentID) != "" {
		session, err := s.loadOwned(ctx, requester, query.AssessmentID)
		if err != nil {
			return models.AssessmentSession{}, err
		}
		if !session.IsCompleted() {
			return models.AssessmentSession{}, ErrNotCompleted
		}
		return session, nil
	}

	if query.UserID == 0 {
		return models.AssessmentSession{}, fmt.Errorf("%w: assessmentId or userId is required", ErrValidation)
	}
	if requester.UserID == nil {
		return models.AssessmentSession{}, ErrAuthenticationRequired
	}
	if *requester.UserID != query.UserID && !requester.privileged() {
		return models.AssessmentSession{}, ErrForbiddenIdentity
	}

	studentID := query.UserID
	session, err := s.sessions.FindLatestForOwner(ctx, repository.SessionOwner{StudentID: &studentID}, placement.StatusCompleted)
	if errors.Is(err, repository.ErrNotFound) {
		return models.AssessmentSession{}, ErrReportNotFound
	}
	if err != nil {
		return models.AssessmentSession{}, storageError(err)
	}
	return session, nil
}

// ExportReport renders the placement report as an xlsx workbook.
func (s *assessmentService) ExportReport(ctx context.Context, requester Requester, query dto.ReportQuery) (ReportExport, error) {
	report, err := s.Report(ctx, requester, query)
	if err != nil {
		return ReportExport{}, err
	}

	content, err := renderReportWorkbook(report)
	if err != nil {
		s.logger.Error().Err(err).Str("assessment_id", report.AssessmentID).Msg("failed to render report workbook")
		return ReportExport{}, err
	}

	return ReportExport{
		Filename:    fmt.Sprintf("placement-%s.xlsx", report.AssessmentID),
		ContentType: xlsxContentType,
		Content:     content,
	}, nil
}

func renderReportWorkbook(report dto.PlacementReportResponse) ([]byte, error) {
	book := excelize.NewFile()
	defer book.Close()

	const summarySheet, skillsSheet = "Placement", "Skills"
	if err := book.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := book.NewSheet(skillsSheet); err != nil {
		return nil, err
	}

	rows := [][]interface{}{
		{"Assessment", report.AssessmentID},
		{"Student", report.DisplayName},
		{"Declared grade", report.DeclaredGrade},
		{"Overall accuracy", report.OverallAccuracy},
		{"Summary", report.Summary},
		{},
		{"Subject", "Comfortable grade", "Confidence", "Answered", "Correct", "Accuracy", "Average difficulty"},
	}
	for _, subject := range report.Subjects {
		item := report.Placements[subject]
		rows = append(rows, []interface{}{
			item.Title, item.ComfortableGrade, string(item.Confidence),
			item.QuestionsAnswered, item.CorrectAnswers, item.Accuracy, item.AverageDifficulty,
		})
	}
	if report.RemediationPlan != nil {
		rows = append(rows, []interface{}{}, []interface{}{"Remediation plan", *report.RemediationPlan})
	}
	if err := writeRows(book, summarySheet, rows); err != nil {
		return nil, err
	}

	skills := [][]interface{}{{"Subject", "Bucket", "Skill"}}
	for _, subject := range report.Subjects {
		item := report.Placements[subject]
		buckets := []struct {
			name   placement.SkillBucket
			skills []string
		}{
			{placement.BucketMastered, item.Skills.Mastered},
			{placement.BucketCompetent, item.Skills.Competent},
			{placement.BucketGap, item.Skills.Gap},
			{placement.BucketNotIntroduced, item.Skills.NotIntroduced},
		}
		for _, bucket := range buckets {
			for _, skill := range bucket.skills {
				skills = append(skills, []interface{}{item.Title, string(bucket.name), skill})
			}
		}
	}
	if err := writeRows(book, skillsSheet, skills); err != nil {
		return nil, err
	}

	buffer, err := book.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func writeRows(book *excelize.File, sheet string, rows [][]interface{}) error {
	for index, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, index+1)
		if err != nil {
			return err
		}
		values := row
		if err := book.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

// Claim moves every session owned by an anonymous visitor onto the signed-in student.
func (s *assessmentService) Claim(ctx context.Context, requester Requester, payload dto.ClaimAssessmentRequest) (dto.ClaimAssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ClaimAssessmentResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if requester.UserID == nil {
		return dto.ClaimAssessmentResponse{}, ErrAuthenticationRequired
	}

	anonymousID := strings.TrimSpace(payload.SessionID)
	sessions, err := s.sessions.ListByOwner(ctx, repository.SessionOwner{AnonymousID: anonymousID})
	if err != nil {
		return dto.ClaimAssessmentResponse{}, storageError(err)
	}

	studentID := *requester.UserID
	claimed := make([]string, 0, len(sessions))
	for _, session := range sessions {
		err := s.withVersionRetry(ctx, "claim", session, func(current models.AssessmentSession) error {
			// already moved by a concurrent claim
			if current.AnonymousID == nil || *current.AnonymousID != anonymousID {
				return nil
			}
			id := studentID
			current.StudentID = &id
			current.AnonymousID = nil
			if err := s.sessions.CompareAndSwap(ctx, &current); err != nil {
				return storageError(err)
			}
			claimed = append(claimed, current.ID)
			return nil
		})
		if errors.Is(err, repository.ErrDuplicate) {
			// the student already has an in-progress session; this one stays anonymous
			s.logger.Warn().Str("assessment_id", session.ID).Uint("student_id", studentID).Msg("skipping claim of second in-progress assessment")
			continue
		}
		if err != nil {
			return dto.ClaimAssessmentResponse{}, err
		}
	}

	for _, id := range claimed {
		s.recordEvent(ctx, id, models.EventAssessmentClaimed, requester.UserID, nil)
	}
	s.cache.invalidate(ctx, claimed...)

	if len(claimed) > 0 {
		s.logger.Info().Uint("student_id", studentID).Int("claimed", len(claimed)).Msg("anonymous assessments claimed")
	}

	return dto.ClaimAssessmentResponse{Claimed: len(claimed), AssessmentIDs: claimed}, nil
}

func (s *assessmentService) Events(ctx context.Context, requester Requester, req dto.AssessmentEventListRequest) (dto.AssessmentEventListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AssessmentEventListResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	session, err := s.loadOwned(ctx, requester.withAnonymous(req.SessionID), req.AssessmentID)
	if err != nil {
		return dto.AssessmentEventListResponse{}, err
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	if s.events == nil {
		return dto.AssessmentEventListResponse{
			Items:      []dto.AssessmentEventResponse{},
			Pagination: dto.PaginationMeta{Page: page, PageSize: pageSize},
		}, nil
	}

	events, total, err := s.events.List(ctx, repository.AssessmentEventFilter{
		AssessmentID: session.ID,
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		return dto.AssessmentEventListResponse{}, storageError(err)
	}

	items := make([]dto.AssessmentEventResponse, 0, len(events))
	for _, event := range events {
		items = append(items, dto.NewAssessmentEventResponse(event))
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return dto.AssessmentEventListResponse{
		Items: items,
		Pagination: dto.PaginationMeta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	}, nil
}
