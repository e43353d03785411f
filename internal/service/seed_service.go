package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/adeline-api/internal/dto"
	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/placement"
	"github.com/noah-isme/adeline-api/internal/repository"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
)

// SeedService loads authored questions into the question bank.
type SeedService interface {
	SeedQuestions(ctx context.Context, token string, items []dto.QuestionSeedItem) (int64, error)
	ImportQuestions(ctx context.Context, items []dto.QuestionSeedItem) (int64, error)
}

type seedService struct {
	questions repository.QuestionRepository
	validator *validator.Validate
	enabled   bool
	token     string
	logger    zerolog.Logger
}

// NewSeedService constructs a seeding service.
func NewSeedService(questions repository.QuestionRepository, validate *validator.Validate, enabled bool, token string, logger zerolog.Logger) SeedService {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &seedService{
		questions: questions,
		validator: validate,
		enabled:   enabled,
		token:     token,
		logger:    logger.With().Str("component", "seed_service").Logger(),
	}
}

// SeedQuestions is the token-guarded HTTP entry point.
func (s *seedService) SeedQuestions(ctx context.Context, token string, items []dto.QuestionSeedItem) (int64, error) {
	if !s.enabled {
		return 0, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return 0, ErrSeedUnauthorized
	}
	return s.ImportQuestions(ctx, items)
}

// ImportQuestions upserts the items without a token check; used by the seed CLI.
func (s *seedService) ImportQuestions(ctx context.Context, items []dto.QuestionSeedItem) (int64, error) {
	if err := s.validator.Struct(dto.QuestionSeedRequest{Questions: items}); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	questions, err := normalizeQuestions(items)
	if err != nil {
		return 0, err
	}

	affected, err := s.questions.UpsertBatch(ctx, questions)
	if err != nil {
		return 0, storageError(err)
	}
	s.logger.Info().Int64("affected", affected).Msg("questions seeded")
	return affected, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) == 1
}

func normalizeQuestions(items []dto.QuestionSeedItem) ([]models.Question, error) {
	seen := make(map[string]struct{}, len(items))
	questions := make([]models.Question, 0, len(items))

	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if isWarmupPrompt(id) {
			return nil, fmt.Errorf("%w: question id %q uses the reserved %q prefix", ErrValidation, id, warmupPrefix)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: question id %q appears more than once", ErrValidation, id)
		}
		seen[id] = struct{}{}

		subject, err := placement.ParseSubject(item.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}

		options := make(map[string]string, len(item.Options))
		for key, text := range item.Options {
			options[strings.TrimSpace(key)] = strings.TrimSpace(text)
		}
		answer := strings.TrimSpace(item.CorrectAnswer)
		if len(options) > 0 {
			if _, ok := options[answer]; !ok {
				return nil, fmt.Errorf("%w: question %q correct answer must be one of its option keys", ErrValidation, id)
			}
		}

		questions = append(questions, models.Question{
			ID:               id,
			Subject:          subject,
			Skill:            item.Skill,
			GradeLevel:       item.GradeLevel,
			Prompt:           strings.TrimSpace(item.Prompt),
			Options:          datatypes.NewJSONType(options),
			CorrectAnswer:    answer,
			EstimatedSeconds: item.EstimatedSeconds,
		})
	}

	return questions, nil
}
