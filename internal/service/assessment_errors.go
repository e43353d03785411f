package service

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/adeline-api/internal/repository"
	"github.com/noah-isme/adeline-api/pkg/ai"
)

var (
	// ErrIdentityMissing indicates neither an authenticated user nor an anonymous session id was supplied.
	ErrIdentityMissing = errors.New("a signed-in user or an anonymous session id is required")
	// ErrAuthenticationRequired indicates the operation needs a durable, authenticated identity.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrForbiddenIdentity indicates the caller asked to act as another user.
	ErrForbiddenIdentity = errors.New("user id does not match the authenticated user")
	// ErrSessionNotFound indicates the assessment does not exist or is not visible to the caller.
	ErrSessionNotFound = errors.New("assessment not found")
	// ErrQuestionNotFound indicates the question id does not resolve in the bank.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrReportNotFound indicates there is no completed assessment to report on.
	ErrReportNotFound = errors.New("no completed assessment found")
	// ErrPhaseViolation indicates questions were requested before the warmup finished.
	ErrPhaseViolation = errors.New("warmup must be completed before questions are served")
	// ErrAssessmentComplete indicates a mutation was attempted on a finished assessment.
	ErrAssessmentComplete = errors.New("assessment is complete")
	// ErrAlreadyCompleted indicates complete was called a second time.
	ErrAlreadyCompleted = errors.New("assessment already completed")
	// ErrNotCompleted indicates a report was requested for an unfinished assessment.
	ErrNotCompleted = errors.New("assessment has not been completed")
	// ErrQuestionNotServed indicates an answer references a question never served in this session.
	ErrQuestionNotServed = errors.New("question was not served in this assessment")
	// ErrAlreadyAnswered indicates the question already has a recorded response.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrConcurrentUpdate indicates optimistic retries were exhausted.
	ErrConcurrentUpdate = errors.New("assessment was updated concurrently, please retry")
	// ErrValidation wraps request validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrStorage wraps persistence failures that are not timeouts.
	ErrStorage = errors.New("storage failure")
)

// Kind is the error taxonomy surfaced to HTTP callers.
type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindNotFound       Kind = "not_found"
	KindInvalidState   Kind = "invalid_state"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindStorage        Kind = "storage"
	KindStorageTimeout Kind = "storage_timeout"
	KindUpstream       Kind = "upstream_generation"
)

// KindOf classifies err. Unknown errors are treated as storage failures.
func KindOf(err error) Kind {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, ErrIdentityMissing),
		errors.Is(err, ErrAuthenticationRequired),
		errors.Is(err, ErrForbiddenIdentity),
		errors.Is(err, ErrSeedUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrReportNotFound),
		errors.Is(err, ErrSeedDisabled):
		return KindNotFound
	case errors.Is(err, ErrPhaseViolation),
		errors.Is(err, ErrAssessmentComplete),
		errors.Is(err, ErrAlreadyCompleted),
		errors.Is(err, ErrNotCompleted),
		errors.Is(err, ErrQuestionNotServed),
		errors.Is(err, ErrAlreadyAnswered):
		return KindInvalidState
	case errors.Is(err, ErrValidation), errors.As(err, &validationErrs):
		return KindValidation
	case errors.Is(err, ErrConcurrentUpdate):
		return KindConflict
	case errors.Is(err, repository.ErrStorageTimeout):
		return KindStorageTimeout
	case errors.Is(err, ai.ErrUpstreamGeneration):
		return KindUpstream
	default:
		return KindStorage
	}
}

func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrStorageTimeout) || errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, ErrStorage) {
		return err
	}
	return errors.Join(ErrStorage, err)
}
