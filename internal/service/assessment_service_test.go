package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/adeline-api/internal/dto"
	"github.com/noah-isme/adeline-api/internal/models"
	"github.com/noah-isme/adeline-api/internal/placement"
	"github.com/noah-isme/adeline-api/internal/repository"
	"github.com/noah-isme/adeline-api/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func uintPtr(v uint) *uint { return &v }

func intPtr(v int) *int { return &v }

type assessmentFixture struct {
	db       *gorm.DB
	redis    *redis.Client
	sessions repository.AssessmentSessionRepository
	events   repository.AssessmentEventRepository
	svc      AssessmentService
}

func newAssessmentFixture(t *testing.T, cfg AssessmentConfig, planner ai.Generator) *assessmentFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Question{}, &models.AssessmentSession{}, &models.AssessmentResponse{}, &models.AssessmentEvent{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	questions := repository.NewQuestionRepository(db, 5*time.Second)
	_, err = questions.UpsertBatch(context.Background(), questionBank(placement.SubjectMath, placement.SubjectReading))
	require.NoError(t, err)

	sessions := repository.NewAssessmentSessionRepository(db, 5*time.Second)
	events := repository.NewAssessmentEventRepository(db, 5*time.Second)

	svc := NewAssessmentService(AssessmentDependencies{
		Questions: questions,
		Sessions:  sessions,
		Responses: repository.NewAssessmentResponseRepository(db, 5*time.Second),
		Events:    events,
		Planner:   planner,
		Publisher: NewEventPublisher(client, nil, "adeline", testLogger()),
		Cache:     client,
		Config:    cfg,
		Logger:    testLogger(),
	})

	return &assessmentFixture{db: db, redis: client, sessions: sessions, events: events, svc: svc}
}

// questionBank seeds two questions per level for each subject. Option "A" is always correct.
func questionBank(subjects ...placement.Subject) []models.Question {
	var items []models.Question
	for _, subject := range subjects {
		for level := 1; level <= 12; level++ {
			for _, suffix := range []string{"a", "b"} {
				items = append(items, models.Question{
					ID:            fmt.Sprintf("%s-%02d-%s", subject, level, suffix),
					Subject:       subject,
					Skill:         fmt.Sprintf("%s-skill-%d", subject, (level+1)/2),
					GradeLevel:    level,
					Prompt:        fmt.Sprintf("%s question at level %d", subject, level),
					Options:       datatypes.NewJSONType(map[string]string{"A": "right", "B": "wrong"}),
					CorrectAnswer: "A",
				})
			}
		}
	}
	return items
}

func twoSubjectConfig() AssessmentConfig {
	return AssessmentConfig{
		QuestionsPerSubject: 3,
		WarmupTurns:         1,
		MaxCASRetries:       10,
		DefaultGrade:        5,
		Difficulty:          placement.DefaultDifficultyConfig(),
		Curriculum:          []placement.Subject{placement.SubjectMath, placement.SubjectReading},
	}
}

func samplePlan() ai.Plan {
	return ai.Plan{
		Overview: "Two weeks of focused practice.",
		Days:     []ai.PlanDay{{Day: 1, Subject: "math", Focus: "ratios", Activity: "Recipe scaling", Minutes: 20}},
	}
}

func answer(t *testing.T, f *assessmentFixture, requester Requester, assessmentID, questionID, value string) {
	t.Helper()
	resp, err := f.svc.RecordAnswer(context.Background(), requester, dto.SubmitAnswerRequest{
		AssessmentID: assessmentID,
		QuestionID:   questionID,
		Answer:       value,
		TimeSpent:    30,
	})
	require.NoError(t, err)
	require.True(t, resp.Recorded)
}

func nextQuestionID(t *testing.T, f *assessmentFixture, requester Requester, assessmentID string) string {
	t.Helper()
	result, err := f.svc.NextQuestion(context.Background(), requester, assessmentID)
	require.NoError(t, err)
	require.NotNil(t, result.Question)
	return result.Question.ID
}

func startWarmedUp(t *testing.T, f *assessmentFixture, requester Requester) string {
	t.Helper()
	started, err := f.svc.Start(context.Background(), requester, dto.StartAssessmentRequest{Grade: intPtr(5), DisplayName: "Ada"})
	require.NoError(t, err)
	require.NotNil(t, started.FirstQuestion)
	answer(t, f, requester, started.AssessmentID, started.FirstQuestion.ID, "I like volcanoes")
	return started.AssessmentID
}

func TestAssessmentFlowFollowsStaircaseAndCompletesOnce(t *testing.T) {
	planner := ai.NewMockGenerator(ai.MockResponse{Plan: samplePlan()})
	f := newAssessmentFixture(t, twoSubjectConfig(), planner)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-1"}

	started, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{Grade: intPtr(5), DisplayName: "<b>Ada</b>"})
	require.NoError(t, err)
	require.False(t, started.Resumed)
	require.NotNil(t, started.FirstQuestion)
	require.Equal(t, "warmup-1", started.FirstQuestion.ID)
	require.Equal(t, dto.QuestionTypeWarmup, started.FirstQuestion.Type)
	id := started.AssessmentID

	_, err = f.svc.NextQuestion(ctx, visitor, id)
	require.ErrorIs(t, err, ErrPhaseViolation)

	answer(t, f, visitor, id, "warmup-1", "I like volcanoes")

	require.Equal(t, "math-05-a", nextQuestionID(t, f, visitor, id))
	answer(t, f, visitor, id, "math-05-a", "A")
	require.Equal(t, "math-07-a", nextQuestionID(t, f, visitor, id))
	answer(t, f, visitor, id, "math-07-a", "B")
	require.Equal(t, "math-05-b", nextQuestionID(t, f, visitor, id))
	answer(t, f, visitor, id, "math-05-b", "A")

	moved, err := f.svc.NextQuestion(ctx, visitor, id)
	require.NoError(t, err)
	require.True(t, moved.Transition)
	require.True(t, moved.Transitioned)
	require.Equal(t, "reading", moved.NextSubject)
	require.Contains(t, moved.Message, "Reading")

	require.Equal(t, "reading-05-a", nextQuestionID(t, f, visitor, id))
	answer(t, f, visitor, id, "reading-05-a", "A")
	require.Equal(t, "reading-07-a", nextQuestionID(t, f, visitor, id))
	answer(t, f, visitor, id, "reading-07-a", "A")
	require.Equal(t, "reading-09-a", nextQuestionID(t, f, visitor, id))
	answer(t, f, visitor, id, "reading-09-a", "B")

	done, err := f.svc.NextQuestion(ctx, visitor, id)
	require.NoError(t, err)
	require.True(t, done.Complete)
	require.True(t, done.Transitioned)

	again, err := f.svc.NextQuestion(ctx, visitor, id)
	require.NoError(t, err)
	require.True(t, again.Complete)
	require.False(t, again.Transitioned)

	completed, err := f.svc.Complete(ctx, visitor, dto.CompleteAssessmentRequest{AssessmentID: id})
	require.NoError(t, err)
	require.True(t, completed.Completed)
	require.NotNil(t, completed.RemediationPlan)
	require.Contains(t, *completed.RemediationPlan, "Recipe scaling")
	require.Equal(t, planReadyMessage, completed.Message)

	expected := placement.Synthesize(placement.ReportInput{
		DeclaredGrade: 5,
		Subjects:      []placement.Subject{placement.SubjectMath, placement.SubjectReading},
		Responses: []placement.ResponseRecord{
			{Subject: placement.SubjectMath, Difficulty: 5, Correct: true},
			{Subject: placement.SubjectMath, Difficulty: 7, Correct: false, ProbeUp: true},
			{Subject: placement.SubjectMath, Difficulty: 5, Correct: true},
			{Subject: placement.SubjectReading, Difficulty: 5, Correct: true},
			{Subject: placement.SubjectReading, Difficulty: 7, Correct: true, ProbeUp: true},
			{Subject: placement.SubjectReading, Difficulty: 9, Correct: false, ProbeUp: true},
		},
	}, placement.DefaultDifficultyConfig()).BySubject()

	math := completed.Placements[placement.SubjectMath]
	require.Equal(t, 3, math.QuestionsAnswered)
	require.Equal(t, 2, math.CorrectAnswers)
	require.Equal(t, expected[placement.SubjectMath].ComfortableGrade, math.ComfortableGrade)
	require.Equal(t, 1, math.ProbeUps)
	require.Zero(t, math.ProbeDowns)
	reading := completed.Placements[placement.SubjectReading]
	require.Equal(t, expected[placement.SubjectReading].ComfortableGrade, reading.ComfortableGrade)
	require.Equal(t, expected[placement.SubjectReading].Confidence, reading.Confidence)

	require.Equal(t, 1, planner.CallCount())
	require.Equal(t, "Ada", planner.Calls[0].StudentName)

	_, err = f.svc.Complete(ctx, visitor, dto.CompleteAssessmentRequest{AssessmentID: id})
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	require.Equal(t, KindInvalidState, KindOf(err))

	_, err = f.svc.RecordAnswer(ctx, visitor, dto.SubmitAnswerRequest{AssessmentID: id, QuestionID: "math-09-a", Answer: "A"})
	require.ErrorIs(t, err, ErrAssessmentComplete)

	stored, err := f.sessions.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, placement.StatusCompleted, stored.Status)
	require.Equal(t, placement.PhaseComplete, stored.Phase)
	require.Equal(t, len(stored.Subjects), stored.CurrentSubjectIndex)
	require.NotEmpty(t, stored.ReportCache)

	rerun, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{})
	require.NoError(t, err)
	require.True(t, rerun.AlreadyCompleted)
	require.Equal(t, id, rerun.AssessmentID)
}

func TestAssessmentReportIsCachedAndIdempotent(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), ai.NewMockGenerator(ai.MockResponse{Plan: samplePlan()}))
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-2"}
	id := startWarmedUp(t, f, visitor)

	answer(t, f, visitor, id, nextQuestionID(t, f, visitor, id), "A")

	_, err := f.svc.Report(ctx, visitor, dto.ReportQuery{AssessmentID: id})
	require.ErrorIs(t, err, ErrNotCompleted)

	_, err = f.svc.Complete(ctx, visitor, dto.CompleteAssessmentRequest{AssessmentID: id})
	require.NoError(t, err)

	first, err := f.svc.Report(ctx, visitor, dto.ReportQuery{AssessmentID: id})
	require.NoError(t, err)
	require.Equal(t, id, first.AssessmentID)
	require.Equal(t, 1, first.TotalAnswered)
	require.NotNil(t, first.RemediationPlan)
	require.Equal(t, int64(1), f.redis.Exists(ctx, reportCacheKey(id)).Val())

	// drop the cache so the second read recomputes from responses
	require.NoError(t, f.redis.Del(ctx, reportCacheKey(id)).Err())
	second, err := f.svc.Report(ctx, visitor, dto.ReportQuery{AssessmentID: id})
	require.NoError(t, err)
	require.Equal(t, first.Placements, second.Placements)
	require.Equal(t, first.Summary, second.Summary)

	_, err = f.svc.Report(ctx, Requester{AnonymousID: "someone-else"}, dto.ReportQuery{AssessmentID: id})
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Report(ctx, visitor, dto.ReportQuery{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAssessmentReportByUser(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	student := Requester{UserID: uintPtr(42), Role: "student"}

	_, err := f.svc.Report(ctx, student, dto.ReportQuery{UserID: 42})
	require.ErrorIs(t, err, ErrReportNotFound)

	id := startWarmedUp(t, f, student)
	_, err = f.svc.Complete(ctx, student, dto.CompleteAssessmentRequest{AssessmentID: id})
	require.NoError(t, err)

	report, err := f.svc.Report(ctx, student, dto.ReportQuery{UserID: 42})
	require.NoError(t, err)
	require.Equal(t, id, report.AssessmentID)
	require.Equal(t, 0, report.TotalAnswered)

	_, err = f.svc.Report(ctx, Requester{UserID: uintPtr(7), Role: "student"}, dto.ReportQuery{UserID: 42})
	require.ErrorIs(t, err, ErrForbiddenIdentity)

	parent, err := f.svc.Report(ctx, Requester{UserID: uintPtr(7), Role: "parent"}, dto.ReportQuery{UserID: 42})
	require.NoError(t, err)
	require.Equal(t, id, parent.AssessmentID)

	_, err = f.svc.Report(ctx, Requester{AnonymousID: "visitor"}, dto.ReportQuery{UserID: 42})
	require.ErrorIs(t, err, ErrAuthenticationRequired)
	require.Equal(t, KindUnauthorized, KindOf(err))
}

func TestAssessmentCompleteFallsBackWhenPlanFails(t *testing.T) {
	cases := []struct {
		name    string
		planner ai.Generator
	}{
		{name: "upstream error", planner: ai.NewMockGenerator(ai.MockResponse{Err: &ai.ErrRateLimit{RetryAfter: time.Second}})},
		{name: "no generator", planner: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAssessmentFixture(t, twoSubjectConfig(), tc.planner)
			ctx := context.Background()
			visitor := Requester{AnonymousID: "visitor-3"}
			id := startWarmedUp(t, f, visitor)

			completed, err := f.svc.Complete(ctx, visitor, dto.CompleteAssessmentRequest{AssessmentID: id})
			require.NoError(t, err)
			require.True(t, completed.Completed)
			require.Nil(t, completed.RemediationPlan)
			require.Equal(t, planPlaceholderMessage, completed.Message)

			stored, err := f.sessions.FindByID(ctx, id)
			require.NoError(t, err)
			require.Equal(t, placement.StatusCompleted, stored.Status)
			require.Nil(t, stored.RemediationPlan)
		})
	}
}

func TestAssessmentCompletePublishesEvent(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), ai.NewMockGenerator(ai.MockResponse{Plan: samplePlan()}))
	ctx := context.Background()

	sub := f.redis.Subscribe(ctx, "adeline:"+SubjectAssessmentCompleted)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	student := Requester{UserID: uintPtr(5)}
	id := startWarmedUp(t, f, student)
	answer(t, f, student, id, nextQuestionID(t, f, student, id), "A")

	_, err = f.svc.Complete(ctx, student, dto.CompleteAssessmentRequest{AssessmentID: id})
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Contains(t, msg.Payload, id)
	require.Contains(t, msg.Payload, `"plan_ready":true`)
	require.Contains(t, msg.Payload, `"math":`)
}

func TestAssessmentStartResumesPendingQuestion(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-4"}
	id := startWarmedUp(t, f, visitor)

	served := nextQuestionID(t, f, visitor, id)

	resumed, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{})
	require.NoError(t, err)
	require.True(t, resumed.Resumed)
	require.Equal(t, id, resumed.AssessmentID)
	require.NotNil(t, resumed.FirstQuestion)
	require.Equal(t, served, resumed.FirstQuestion.ID)
	require.Equal(t, 1, resumed.FirstQuestion.Number)

	answer(t, f, visitor, id, served, "A")
	resumed, err = f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{})
	require.NoError(t, err)
	require.NotEqual(t, served, resumed.FirstQuestion.ID)

	stored, err := f.sessions.FindByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored.ServedQuestions, 2)
}

func TestAssessmentStartIdentityRules(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, Requester{}, dto.StartAssessmentRequest{})
	require.ErrorIs(t, err, ErrIdentityMissing)
	require.Equal(t, KindUnauthorized, KindOf(err))

	_, err = f.svc.Start(ctx, Requester{AnonymousID: "visitor"}, dto.StartAssessmentRequest{UserID: uintPtr(3)})
	require.ErrorIs(t, err, ErrAuthenticationRequired)

	_, err = f.svc.Start(ctx, Requester{UserID: uintPtr(4), Role: "student"}, dto.StartAssessmentRequest{UserID: uintPtr(3)})
	require.ErrorIs(t, err, ErrForbiddenIdentity)

	started, err := f.svc.Start(ctx, Requester{UserID: uintPtr(4), Role: "teacher"}, dto.StartAssessmentRequest{UserID: uintPtr(3), State: " ca "})
	require.NoError(t, err)
	stored, err := f.sessions.FindByID(ctx, started.AssessmentID)
	require.NoError(t, err)
	require.Equal(t, uint(3), *stored.StudentID)
	require.Nil(t, stored.AnonymousID)
	require.Equal(t, "CA", stored.State)
	require.Equal(t, 5, stored.DeclaredGrade)

	fromBody, err := f.svc.Start(ctx, Requester{}, dto.StartAssessmentRequest{SessionID: "visitor-body"})
	require.NoError(t, err)
	require.NotEmpty(t, fromBody.AssessmentID)

	_, err = f.svc.Start(ctx, Requester{AnonymousID: "visitor"}, dto.StartAssessmentRequest{Grade: intPtr(13)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAssessmentAccessIsScopedToOwner(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-5"}
	id := startWarmedUp(t, f, visitor)

	_, err := f.svc.NextQuestion(ctx, Requester{AnonymousID: "intruder"}, id)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.NextQuestion(ctx, Requester{}, id)
	require.ErrorIs(t, err, ErrIdentityMissing)

	_, err = f.svc.NextQuestion(ctx, visitor, "not-a-uuid")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, KindNotFound, KindOf(err))

	_, err = f.svc.NextQuestion(ctx, visitor, uuid.NewString())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAssessmentRecordAnswerRules(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-6"}
	id := startWarmedUp(t, f, visitor)

	served := nextQuestionID(t, f, visitor, id)

	_, err := f.svc.RecordAnswer(ctx, visitor, dto.SubmitAnswerRequest{AssessmentID: id, QuestionID: "math-12-a", Answer: "A"})
	require.ErrorIs(t, err, ErrQuestionNotServed)

	_, err = f.svc.RecordAnswer(ctx, visitor, dto.SubmitAnswerRequest{AssessmentID: id, QuestionID: "nope", Answer: "A"})
	require.ErrorIs(t, err, ErrQuestionNotFound)

	_, err = f.svc.RecordAnswer(ctx, visitor, dto.SubmitAnswerRequest{AssessmentID: id, QuestionID: served, Answer: ""})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, KindValidation, KindOf(err))

	answer(t, f, visitor, id, served, "<script>x</script>A")

	_, err = f.svc.RecordAnswer(ctx, visitor, dto.SubmitAnswerRequest{AssessmentID: id, QuestionID: served, Answer: "B"})
	require.ErrorIs(t, err, ErrAlreadyAnswered)

	// late warmup replies are acknowledged without moving the session
	answer(t, f, visitor, id, "warmup-1", "again")
	stored, err := f.sessions.FindByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, stored.WarmupTurns)
	require.Equal(t, placement.PhaseSubjectTesting, stored.Phase)

	events, err := f.svc.Events(ctx, visitor, dto.AssessmentEventListRequest{AssessmentID: id, PageSize: 50})
	require.NoError(t, err)
	for _, event := range events.Items {
		_, leaked := event.Metadata["is_correct"]
		require.False(t, leaked)
	}
}

func TestAssessmentWarmupRequiresEveryTurn(t *testing.T) {
	cfg := twoSubjectConfig()
	cfg.WarmupTurns = 2
	f := newAssessmentFixture(t, cfg, nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-7"}

	started, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{})
	require.NoError(t, err)
	id := started.AssessmentID

	_, err = f.svc.RecordAnswer(ctx, visitor, dto.SubmitAnswerRequest{AssessmentID: id, QuestionID: "warmup-2", Answer: "skip ahead"})
	require.ErrorIs(t, err, ErrQuestionNotServed)

	answer(t, f, visitor, id, "warmup-1", "hello")
	_, err = f.svc.NextQuestion(ctx, visitor, id)
	require.ErrorIs(t, err, ErrPhaseViolation)

	resumed, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{})
	require.NoError(t, err)
	require.Equal(t, "warmup-2", resumed.FirstQuestion.ID)

	answer(t, f, visitor, id, "warmup-2", "I build robots")
	require.Equal(t, "math-05-a", nextQuestionID(t, f, visitor, id))
}

func TestAssessmentSkipsWarmupWhenDisabled(t *testing.T) {
	cfg := twoSubjectConfig()
	cfg.WarmupTurns = 0
	f := newAssessmentFixture(t, cfg, nil)

	started, err := f.svc.Start(context.Background(), Requester{AnonymousID: "visitor-8"}, dto.StartAssessmentRequest{Grade: intPtr(3)})
	require.NoError(t, err)
	require.NotNil(t, started.FirstQuestion)
	require.Equal(t, "math-03-a", started.FirstQuestion.ID)
	require.Equal(t, dto.QuestionTypeMultipleChoice, started.FirstQuestion.Type)
}

func TestAssessmentConcurrentNextQuestionTransitionsOnce(t *testing.T) {
	cfg := AssessmentConfig{
		QuestionsPerSubject: 1,
		WarmupTurns:         0,
		MaxCASRetries:       50,
		Difficulty:          placement.DefaultDifficultyConfig(),
		Curriculum:          []placement.Subject{placement.SubjectMath},
	}
	f := newAssessmentFixture(t, cfg, nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-9"}

	started, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{})
	require.NoError(t, err)
	require.NotNil(t, started.FirstQuestion)
	answer(t, f, visitor, started.AssessmentID, started.FirstQuestion.ID, "A")

	const callers = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		transitioned int
		failures     []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.NextQuestion(ctx, visitor, started.AssessmentID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if !result.Complete {
				failures = append(failures, errors.New("expected completion signal"))
			}
			if result.Transitioned {
				transitioned++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Equal(t, 1, transitioned)

	stored, err := f.sessions.FindByID(ctx, started.AssessmentID)
	require.NoError(t, err)
	require.Equal(t, placement.PhaseComplete, stored.Phase)
	require.Equal(t, 1, stored.CurrentSubjectIndex)

	completions, total, err := f.events.List(ctx, repository.AssessmentEventFilter{AssessmentID: stored.ID, Action: models.EventPhaseCompleted})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, completions, 1)
}

func TestAssessmentTransitionsPastEmptyBank(t *testing.T) {
	cfg := twoSubjectConfig()
	cfg.WarmupTurns = 0
	cfg.Curriculum = []placement.Subject{placement.SubjectScience, placement.SubjectMath}
	f := newAssessmentFixture(t, cfg, nil)
	ctx := context.Background()

	started, err := f.svc.Start(ctx, Requester{AnonymousID: "visitor-10"}, dto.StartAssessmentRequest{})
	require.NoError(t, err)
	require.Nil(t, started.FirstQuestion)

	result, err := f.svc.NextQuestion(ctx, Requester{AnonymousID: "visitor-10"}, started.AssessmentID)
	require.NoError(t, err)
	require.NotNil(t, result.Question)
	require.True(t, strings.HasPrefix(result.Question.ID, "math-"))
}

func TestNearestLevelPrefersLowerOnTies(t *testing.T) {
	cfg := placement.DefaultDifficultyConfig()

	level, ok := nearestLevel([]int{3, 8}, 5, cfg)
	require.True(t, ok)
	require.Equal(t, 3, level)

	level, ok = nearestLevel([]int{4, 6}, 5, cfg)
	require.True(t, ok)
	require.Equal(t, 4, level)

	_, ok = nearestLevel([]int{0, 13}, 5, cfg)
	require.False(t, ok)
}

func TestAssessmentClaimMovesAnonymousSessions(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-11"}
	id := startWarmedUp(t, f, visitor)

	_, err := f.svc.Claim(ctx, visitor, dto.ClaimAssessmentRequest{SessionID: "visitor-11"})
	require.ErrorIs(t, err, ErrAuthenticationRequired)

	student := Requester{UserID: uintPtr(21), Role: "student"}
	claimed, err := f.svc.Claim(ctx, student, dto.ClaimAssessmentRequest{SessionID: "visitor-11"})
	require.NoError(t, err)
	require.Equal(t, 1, claimed.Claimed)
	require.Equal(t, []string{id}, claimed.AssessmentIDs)

	_, err = f.svc.NextQuestion(ctx, visitor, id)
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NotEmpty(t, nextQuestionID(t, f, student, id))

	again, err := f.svc.Claim(ctx, student, dto.ClaimAssessmentRequest{SessionID: "visitor-11"})
	require.NoError(t, err)
	require.Zero(t, again.Claimed)
}

func TestAssessmentEventsArePaginated(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-12"}
	id := startWarmedUp(t, f, visitor)
	nextQuestionID(t, f, visitor, id)

	page, err := f.svc.Events(ctx, visitor, dto.AssessmentEventListRequest{AssessmentID: id, Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, models.EventAssessmentStarted, page.Items[0].Action)
	require.Equal(t, int64(4), page.Pagination.TotalItems)
	require.Equal(t, 2, page.Pagination.TotalPages)

	_, err = f.svc.Events(ctx, Requester{AnonymousID: "intruder"}, dto.AssessmentEventListRequest{AssessmentID: id})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAssessmentExportRendersWorkbook(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), ai.NewMockGenerator(ai.MockResponse{Plan: samplePlan()}))
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-13"}
	id := startWarmedUp(t, f, visitor)
	answer(t, f, visitor, id, nextQuestionID(t, f, visitor, id), "A")
	_, err := f.svc.Complete(ctx, visitor, dto.CompleteAssessmentRequest{AssessmentID: id})
	require.NoError(t, err)

	export, err := f.svc.ExportReport(ctx, visitor, dto.ReportQuery{AssessmentID: id})
	require.NoError(t, err)
	require.Equal(t, xlsxContentType, export.ContentType)
	require.Equal(t, "placement-"+id+".xlsx", export.Filename)

	book, err := excelize.OpenReader(bytes.NewReader(export.Content))
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("Placement")
	require.NoError(t, err)
	require.Equal(t, []string{"Assessment", id}, rows[0])

	skills, err := book.GetRows("Skills")
	require.NoError(t, err)
	require.Equal(t, []string{"Subject", "Bucket", "Skill"}, skills[0])
	require.Greater(t, len(skills), 1)
}

func TestKindOfClassifiesErrors(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{ErrIdentityMissing, KindUnauthorized},
		{ErrSeedUnauthorized, KindUnauthorized},
		{ErrSessionNotFound, KindNotFound},
		{ErrPhaseViolation, KindInvalidState},
		{fmt.Errorf("%w: bad", ErrValidation), KindValidation},
		{ErrConcurrentUpdate, KindConflict},
		{fmt.Errorf("%w: slow", repository.ErrStorageTimeout), KindStorageTimeout},
		{&ai.ErrInvalidResponse{Content: "x"}, KindUpstream},
		{storageError(errors.New("disk on fire")), KindStorage},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, KindOf(tc.err), tc.err.Error())
	}
}

// lateResponses inserts one extra answer right after the first listing,
// the way a RecordAnswer racing Complete would land.
type lateResponses struct {
	repository.AssessmentResponseRepository
	once   sync.Once
	late   models.AssessmentResponse
	insert error
}

func (r *lateResponses) ListBySession(ctx context.Context, assessmentID string) ([]models.AssessmentResponse, error) {
	responses, err := r.AssessmentResponseRepository.ListBySession(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	r.once.Do(func() {
		late := r.late
		late.AssessmentID = assessmentID
		late.CreatedAt = time.Now().UTC().Add(time.Second)
		r.insert = r.AssessmentResponseRepository.Create(ctx, &late)
	})
	return responses, nil
}

func TestAssessmentCompleteAndReportAgreeOnLateAnswer(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-20"}
	id := startWarmedUp(t, f, visitor)

	served := nextQuestionID(t, f, visitor, id)
	answer(t, f, visitor, id, served, "A")

	svc := f.svc.(*assessmentService)
	late := &lateResponses{
		AssessmentResponseRepository: svc.responses,
		late: models.AssessmentResponse{
			QuestionID: "math-09-a",
			Subject:    placement.SubjectMath,
			Skill:      "math-skill-5",
			Answer:     "A",
			IsCorrect:  true,
			Difficulty: 9,
		},
	}
	svc.responses = late

	completed, err := f.svc.Complete(ctx, visitor, dto.CompleteAssessmentRequest{AssessmentID: id})
	require.NoError(t, err)
	require.NoError(t, late.insert)
	require.Equal(t, 1, completed.Placements[placement.SubjectMath].QuestionsAnswered)

	stored, err := f.sessions.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.CompletedAt)

	require.NoError(t, f.redis.Del(ctx, reportCacheKey(id)).Err())
	report, err := f.svc.Report(ctx, visitor, dto.ReportQuery{AssessmentID: id})
	require.NoError(t, err)
	require.Equal(t, completed.Placements[placement.SubjectMath].QuestionsAnswered, report.Placements[placement.SubjectMath].QuestionsAnswered)
	require.Equal(t, 1, report.TotalAnswered)
}

func TestAssessmentEventsWithoutEventStore(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	f.svc.(*assessmentService).events = nil
	visitor := Requester{AnonymousID: "visitor-21"}
	id := startWarmedUp(t, f, visitor)

	page, err := f.svc.Events(ctx, visitor, dto.AssessmentEventListRequest{AssessmentID: id})
	require.NoError(t, err)
	require.NotNil(t, page.Items)
	require.Empty(t, page.Items)
	require.Equal(t, 1, page.Pagination.Page)
	require.Equal(t, 20, page.Pagination.PageSize)
	require.Zero(t, page.Pagination.TotalItems)
	require.Zero(t, page.Pagination.TotalPages)

	_, err = f.svc.Events(ctx, Requester{AnonymousID: "intruder"}, dto.AssessmentEventListRequest{AssessmentID: id})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

// staleSessions reports no in-progress session on the first lookup, as a start
// racing another start for the same owner would see it.
type staleSessions struct {
	repository.AssessmentSessionRepository
	missed bool
}

func (r *staleSessions) FindLatestForOwner(ctx context.Context, owner repository.SessionOwner, status placement.Status) (models.AssessmentSession, error) {
	if status == placement.StatusInProgress && !r.missed {
		r.missed = true
		return models.AssessmentSession{}, repository.ErrNotFound
	}
	return r.AssessmentSessionRepository.FindLatestForOwner(ctx, owner, status)
}

func TestAssessmentConcurrentStartResumesWinner(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-22"}

	first, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{Grade: intPtr(5)})
	require.NoError(t, err)
	require.False(t, first.Resumed)

	svc := f.svc.(*assessmentService)
	svc.sessions = &staleSessions{AssessmentSessionRepository: svc.sessions}

	second, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{Grade: intPtr(5)})
	require.NoError(t, err)
	require.True(t, second.Resumed)
	require.Equal(t, first.AssessmentID, second.AssessmentID)
	require.NotNil(t, second.FirstQuestion)

	sessions, err := f.sessions.ListByOwner(ctx, repository.SessionOwner{AnonymousID: "visitor-22"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestAssessmentConcurrentStartsCreateOneSession(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	visitor := Requester{AnonymousID: "visitor-23"}

	var (
		wg  sync.WaitGroup
		ids = make([]string, 4)
	)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started, err := f.svc.Start(ctx, visitor, dto.StartAssessmentRequest{Grade: intPtr(5)})
			if err == nil {
				ids[i] = started.AssessmentID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	sessions, err := f.sessions.ListByOwner(ctx, repository.SessionOwner{AnonymousID: "visitor-23"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestAssessmentClaimKeepsSecondInProgressAnonymous(t *testing.T) {
	f := newAssessmentFixture(t, twoSubjectConfig(), nil)
	ctx := context.Background()
	student := Requester{UserID: uintPtr(31), Role: "student"}
	visitor := Requester{AnonymousID: "visitor-24"}

	owned, err := f.svc.Start(ctx, student, dto.StartAssessmentRequest{Grade: intPtr(5)})
	require.NoError(t, err)
	anonymous := startWarmedUp(t, f, visitor)

	claimed, err := f.svc.Claim(ctx, student, dto.ClaimAssessmentRequest{SessionID: "visitor-24"})
	require.NoError(t, err)
	require.Zero(t, claimed.Claimed)

	stored, err := f.sessions.FindByID(ctx, anonymous)
	require.NoError(t, err)
	require.Nil(t, stored.StudentID)
	require.NotNil(t, stored.AnonymousID)
	require.NotEmpty(t, nextQuestionID(t, f, visitor, anonymous))

	mine, err := f.sessions.FindLatestForOwner(ctx, repository.SessionOwner{StudentID: uintPtr(31)}, placement.StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, owned.AssessmentID, mine.ID)
}
