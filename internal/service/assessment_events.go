package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SubjectAssessmentCompleted is the broker topic suffix for finished assessments.
const SubjectAssessmentCompleted = "assessment.completed"

// AssessmentCompletedEvent is broadcast once an assessment has been synthesized.
type AssessmentCompletedEvent struct {
	AssessmentID  string         `json:"assessment_id"`
	StudentID     *uint          `json:"student_id,omitempty"`
	Anonymous     bool           `json:"anonymous"`
	DeclaredGrade int            `json:"declared_grade"`
	Levels        map[string]int `json:"levels"`
	PlanReady     bool           `json:"plan_ready"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// EventPublisher fans domain events out to the configured brokers.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

type brokerPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
}

// NewEventPublisher publishes on redis pub/sub and NATS when either is configured.
func NewEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) EventPublisher {
	channelBase = strings.TrimSpace(channelBase)
	if channelBase == "" {
		channelBase = "adeline"
	}

	return &brokerPublisher{
		redis:        redisClient,
		redisChannel: channelBase,
		nats:         natsConn,
		natsSubject:  strings.ReplaceAll(channelBase, ":", "."),
		logger:       logger.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *brokerPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var errs []error
	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.redisChannel+":"+topic, body).Err(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.nats != nil {
		if err := p.nats.Publish(p.natsSubject+"."+topic, body); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		p.logger.Debug().Str("topic", topic).Msg("event published")
	}
	return errors.Join(errs...)
}
