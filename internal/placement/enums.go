package placement

import (
	"fmt"
	"strings"
)

// Subject identifies one curriculum track assessed during placement.
type Subject string

const (
	SubjectMath    Subject = "math"
	SubjectReading Subject = "reading"
	SubjectScience Subject = "science"
	SubjectHebrew  Subject = "hebrew"
)

var subjectTitles = map[Subject]string{
	SubjectMath:    "Math",
	SubjectReading: "Reading",
	SubjectScience: "Science",
	SubjectHebrew:  "Hebrew & Values",
}

// DefaultCurriculum returns the ordered subject list seeded into new assessments.
func DefaultCurriculum() []Subject {
	return []Subject{SubjectMath, SubjectReading, SubjectScience, SubjectHebrew}
}

// ParseSubject converts free-form input into a known subject.
func ParseSubject(raw string) (Subject, error) {
	subject := Subject(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := subjectTitles[subject]; !ok {
		return "", fmt.Errorf("unknown subject %q", raw)
	}
	return subject, nil
}

// Valid reports whether the subject belongs to the curriculum.
func (s Subject) Valid() bool {
	_, ok := subjectTitles[s]
	return ok
}

// Title returns the display name of the subject.
func (s Subject) Title() string {
	if title, ok := subjectTitles[s]; ok {
		return title
	}
	return string(s)
}

// Phase is the coarse stage of an assessment session.
type Phase string

const (
	PhaseWarmup         Phase = "warmup"
	PhaseSubjectTesting Phase = "subject_testing"
	PhaseComplete       Phase = "complete"
)

// Rank orders phases: warmup < subject_testing < complete. Unknown phases rank -1.
func (p Phase) Rank() int {
	switch p {
	case PhaseWarmup:
		return 0
	case PhaseSubjectTesting:
		return 1
	case PhaseComplete:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the phase is one of the known phases.
func (p Phase) Valid() bool {
	return p.Rank() >= 0
}

// CanAdvanceTo reports whether moving to next keeps the phase sequence non-decreasing.
func (p Phase) CanAdvanceTo(next Phase) bool {
	return p.Valid() && next.Valid() && next.Rank() >= p.Rank()
}

// Status is the lifecycle status of an assessment session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Confidence labels how much a placement can be trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// SkillBucket groups skills by demonstrated proficiency.
type SkillBucket string

const (
	BucketMastered      SkillBucket = "mastered"
	BucketCompetent     SkillBucket = "competent"
	BucketGap           SkillBucket = "gap"
	BucketNotIntroduced SkillBucket = "not_introduced"
)
