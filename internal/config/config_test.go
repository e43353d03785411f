package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/adeline-api/internal/placement"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ADELINE_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 3, cfg.QuestionsPerSubject)
	require.Equal(t, 1, cfg.WarmupTurns)
	require.Equal(t, 5, cfg.MaxCASRetries)
	require.Equal(t, 5, cfg.DefaultGrade)
	require.Equal(t, 60, cfg.AnswerRateLimit)
	require.Equal(t, 3*time.Second, cfg.StorageTimeout)
	require.Equal(t, 30*24*time.Hour, cfg.RetestAfter)
	require.Equal(t, placement.DefaultDifficultyConfig(), cfg.Difficulty)
	require.Equal(t, placement.DefaultCurriculum(), cfg.Curriculum)
	require.False(t, cfg.IsProduction())
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ADELINE_JWT_SECRET", "secret")
	t.Setenv("ADELINE_APP_PORT", ":9090")
	t.Setenv("ADELINE_ASSESSMENT_QUESTIONS_PER_SUBJECT", "5")
	t.Setenv("ADELINE_DIFFICULTY_MIN", "6")
	t.Setenv("ADELINE_STORAGE_TIMEOUT", "750ms")
	t.Setenv("ADELINE_AI_PROVIDER", "Anthropic")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, 5, cfg.QuestionsPerSubject)
	require.Equal(t, 6, cfg.Difficulty.Min)
	require.Equal(t, 12, cfg.Difficulty.Max)
	require.Equal(t, 750*time.Millisecond, cfg.StorageTimeout)
	require.Equal(t, "anthropic", cfg.AIProvider)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("ADELINE_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("ADELINE_JWT_SECRET", "secret")
	t.Setenv("ADELINE_SEED_ENABLED", "true")
	_, err = Load()
	require.ErrorContains(t, err, "seed token")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ADELINE_JWT_SECRET", "secret")
	t.Setenv("ADELINE_REPORT_CACHE_TTL", "soon")

	_, err := Load()
	require.ErrorContains(t, err, "report.cache_ttl")
}

func TestLoadParsesCurriculum(t *testing.T) {
	t.Setenv("ADELINE_JWT_SECRET", "secret")
	t.Setenv("ADELINE_ASSESSMENT_SUBJECTS", " Math, reading ,math")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []placement.Subject{placement.SubjectMath, placement.SubjectReading}, cfg.Curriculum)

	t.Setenv("ADELINE_ASSESSMENT_SUBJECTS", "math,art")
	_, err = Load()
	require.ErrorContains(t, err, "assessment.subjects")
}
