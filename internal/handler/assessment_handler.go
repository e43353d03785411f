package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/adeline-api/internal/dto"
	"github.com/noah-isme/adeline-api/internal/middleware"
	"github.com/noah-isme/adeline-api/internal/service"
	"github.com/noah-isme/adeline-api/internal/utils"
)

// AssessmentHandler exposes the placement assessment endpoints.
type AssessmentHandler struct {
	service     service.AssessmentService
	logger      zerolog.Logger
	answerLimit int
}

// NewAssessmentHandler constructs an assessment handler. answerLimit caps answers per caller per minute.
func NewAssessmentHandler(service service.AssessmentService, answerLimit int, logger zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		service:     service,
		logger:      logger.With().Str("component", "assessment_handler").Logger(),
		answerLimit: answerLimit,
	}
}

// Register wires assessment routes.
func (h *AssessmentHandler) Register(router fiber.Router) {
	router.Post("/start", h.start)
	router.Get("/question", h.question)
	router.Post("/answer", middleware.RateLimit("assessment-answer", h.answerLimit, time.Minute), h.answer)
	router.Post("/complete", h.complete)
	router.Get("/report", h.report)
	router.Get("/report/export", h.export)
	router.Get("/events", h.events)
	router.Post("/claim", middleware.WithAuth(h.claim, middleware.AuthOptions{RequireUser: true}))
}

func (h *AssessmentHandler) start(c *fiber.Ctx) error {
	var payload dto.StartAssessmentRequest
	if err := parseOptionalBody(c, &payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Start(c.UserContext(), requesterFromContext(c, payload.SessionID), payload)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, result)
}

func (h *AssessmentHandler) question(c *fiber.Ctx) error {
	assessmentID := strings.TrimSpace(c.Query("assessmentId"))
	if assessmentID == "" {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", []fieldError{{Field: "assessmentId", Rule: "required"}})
	}

	result, err := h.service.NextQuestion(c.UserContext(), requesterFromContext(c, c.Query("sessionId")), assessmentID)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, result.NextQuestionResponse)
}

func (h *AssessmentHandler) answer(c *fiber.Ctx) error {
	var payload dto.SubmitAnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.RecordAnswer(c.UserContext(), requesterFromContext(c, payload.SessionID), payload)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, result)
}

func (h *AssessmentHandler) complete(c *fiber.Ctx) error {
	var payload dto.CompleteAssessmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Complete(c.UserContext(), requesterFromContext(c, payload.SessionID), payload)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, result)
}

func (h *AssessmentHandler) report(c *fiber.Ctx) error {
	var query dto.ReportQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	result, err := h.service.Report(c.UserContext(), requesterFromContext(c, query.SessionID), query)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, result)
}

func (h *AssessmentHandler) export(c *fiber.Ctx) error {
	var query dto.ReportQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	file, err := h.service.ExportReport(c.UserContext(), requesterFromContext(c, query.SessionID), query)
	if err != nil {
		return h.handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Filename))
	return c.Status(fiber.StatusOK).Send(file.Content)
}

func (h *AssessmentHandler) events(c *fiber.Ctx) error {
	var req dto.AssessmentEventListRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	result, err := h.service.Events(c.UserContext(), requesterFromContext(c, req.SessionID), req)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, result)
}

func (h *AssessmentHandler) claim(c *fiber.Ctx) error {
	var payload dto.ClaimAssessmentRequest
	if err := parseOptionalBody(c, &payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(payload.SessionID) == "" {
		payload.SessionID = middleware.GetAnonymousID(c)
	}

	requester := requesterFromContext(c, "")
	result, err := h.service.Claim(c.UserContext(), requester, payload)
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.OK(c, result)
}

func (h *AssessmentHandler) handleError(c *fiber.Ctx, err error) error {
	kind := service.KindOf(err)
	status := statusForKind(kind)
	logger := requestLogger(h.logger, c)

	switch kind {
	case service.KindValidation:
		if details := validationDetails(err); details != nil {
			return utils.Fail(c, status, "validation failed", details)
		}
	case service.KindStorage:
		logger.Error().Err(err).Msg("assessment request failed")
		return utils.SendError(c, status, "internal server error")
	case service.KindStorageTimeout:
		logger.Error().Err(err).Msg("assessment storage timed out")
		return utils.SendError(c, status, "storage timed out, please retry")
	case service.KindUpstream:
		logger.Warn().Err(err).Msg("text generation failed")
		return utils.SendError(c, status, "text generation unavailable")
	case service.KindConflict:
		logger.Warn().Err(err).Msg("assessment update conflicted")
	}

	return utils.SendError(c, status, err.Error())
}

// parseOptionalBody accepts an empty body as the zero value.
func parseOptionalBody(c *fiber.Ctx, target interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(target)
}
