package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var anthropicModels = map[string]string{
	"claude-sonnet": "claude-sonnet-4-20250514",
	"claude-haiku":  "claude-haiku-4-5-20251001",
}

// AnthropicConfig defines configuration options for the Anthropic plan generator.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Logger    zerolog.Logger
}

// AnthropicGenerator implements Generator with the Anthropic messages API.
type AnthropicGenerator struct {
	client *anthropic.Client
	model  string
	cfg    AnthropicConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewAnthropicGenerator constructs a generator backed by the Anthropic SDK.
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "claude-haiku"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	model := cfg.Model
	if id, ok := anthropicModels[model]; ok {
		model = id
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &AnthropicGenerator{
		client: &client,
		model:  model,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/adeline-api/pkg/ai/anthropic"),
		logger: logger.With().Str("component", "anthropic_generator").Logger(),
	}, nil
}

// Generate requests a plan from Anthropic and validates the JSON reply.
func (g *AnthropicGenerator) Generate(parent context.Context, input PlanInput) (Plan, error) {
	ctx, span := g.tracer.Start(parent, "anthropic.generate_plan", trace.WithAttributes(
		attribute.String("model", g.model),
	))
	defer span.End()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.cfg.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: planSystemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPlanPrompt(input))),
		},
	}

	start := time.Now()
	msg, err := g.client.Messages.New(ctx, params)
	generationDuration.WithLabelValues("anthropic", g.model).Observe(time.Since(start).Seconds())
	if err != nil {
		return Plan{}, g.fail(span, mapAnthropicError(err))
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}
	if content == "" {
		return Plan{}, g.fail(span, &ErrInvalidResponse{Err: fmt.Errorf("no text content in anthropic response")})
	}

	plan, err := ParsePlan(content)
	if err != nil {
		return Plan{}, g.fail(span, err)
	}

	plan.Model = string(msg.Model)
	g.logger.Debug().Int("days", len(plan.Days)).Int64("output_tokens", msg.Usage.OutputTokens).Msg("remediation plan generated")
	return plan, nil
}

func (g *AnthropicGenerator) fail(span trace.Span, err error) error {
	generationFailures.WithLabelValues("anthropic", g.model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &ErrRateLimit{Err: err}
	}
	return &ErrProviderUnavailable{Err: err}
}
