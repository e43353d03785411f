package ai

import (
	"context"
	"fmt"
	"strings"
)

// SubjectOutcome summarises one assessed subject for plan generation.
type SubjectOutcome struct {
	Subject          string   `json:"subject"`
	Title            string   `json:"title"`
	ComfortableGrade int      `json:"comfortable_grade"`
	Confidence       string   `json:"confidence"`
	Accuracy         float64  `json:"accuracy"`
	Gaps             []string `json:"gaps,omitempty"`
	NotIntroduced    []string `json:"not_introduced,omitempty"`
}

// PlanInput carries the synthesized placement into the text generator.
type PlanInput struct {
	StudentName   string           `json:"student_name"`
	DeclaredGrade int              `json:"declared_grade"`
	State         string           `json:"state,omitempty"`
	Summary       string           `json:"summary"`
	Subjects      []SubjectOutcome `json:"subjects"`
	Strengths     []string         `json:"strengths"`
	GrowthAreas   []string         `json:"growth_areas"`
}

// PlanDay is one day of the remediation schedule.
type PlanDay struct {
	Day      int    `json:"day"`
	Subject  string `json:"subject"`
	Focus    string `json:"focus"`
	Activity string `json:"activity"`
	Minutes  int    `json:"minutes"`
}

// Plan is the two-week remediation plan returned by a generator.
type Plan struct {
	Overview string    `json:"overview"`
	Days     []PlanDay `json:"days"`
	Model    string    `json:"-"`
}

// Narrative renders the plan as plain text suitable for storage on the session.
func (p Plan) Narrative() string {
	builder := strings.Builder{}
	builder.WriteString(strings.TrimSpace(p.Overview))
	for _, day := range p.Days {
		builder.WriteString("\n")
		builder.WriteString(fmt.Sprintf("Day %d (%s, %d min): %s. %s", day.Day, day.Subject, day.Minutes, day.Focus, day.Activity))
	}
	return strings.TrimSpace(builder.String())
}

// Generator produces remediation plans from a placement summary.
type Generator interface {
	Generate(ctx context.Context, input PlanInput) (Plan, error)
}
