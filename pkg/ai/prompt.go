package ai

import (
	"fmt"
	"strings"
)

func planSystemPrompt() string {
	return "You are a warm homeschool curriculum advisor. Write a two-week remediation plan for the student described. " +
		"Respond only with a JSON object of the form {\"overview\": string, \"days\": [{\"day\": 1-14, \"subject\": string, " +
		"\"focus\": string, \"activity\": string, \"minutes\": 5-120}]}. Favour growth areas and skills that were missed, " +
		"keep strengths fresh with lighter review, and never mention test scores or right and wrong answers."
}

func buildPlanPrompt(input PlanInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Student\n")
	name := strings.TrimSpace(input.StudentName)
	if name == "" {
		name = "The student"
	}
	builder.WriteString(fmt.Sprintf("%s, declared grade %d", name, input.DeclaredGrade))
	if input.State != "" {
		builder.WriteString(fmt.Sprintf(", homeschooling in %s", input.State))
	}
	builder.WriteString("\n\n## Placement Summary\n")
	builder.WriteString(input.Summary)
	builder.WriteString("\n\n## Subjects\n")
	for _, subject := range input.Subjects {
		builder.WriteString(fmt.Sprintf("- %s: comfortable at grade %d (%s confidence)", subject.Title, subject.ComfortableGrade, subject.Confidence))
		if len(subject.Gaps) > 0 {
			builder.WriteString("; gaps: ")
			builder.WriteString(strings.Join(subject.Gaps, ", "))
		}
		if len(subject.NotIntroduced) > 0 {
			builder.WriteString("; not yet introduced: ")
			builder.WriteString(strings.Join(subject.NotIntroduced, ", "))
		}
		builder.WriteString("\n")
	}
	if len(input.Strengths) > 0 {
		builder.WriteString("\n## Strengths\n")
		builder.WriteString(strings.Join(input.Strengths, ", "))
	}
	if len(input.GrowthAreas) > 0 {
		builder.WriteString("\n\n## Growth Areas\n")
		builder.WriteString(strings.Join(input.GrowthAreas, ", "))
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}
