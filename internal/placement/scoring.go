package placement

import "strings"

// ScorableQuestion is the subset of a question needed to grade an answer.
type ScorableQuestion struct {
	Options       map[string]string
	CorrectAnswer string
}

// MultipleChoice reports whether the question offers a fixed option set.
func (q ScorableQuestion) MultipleChoice() bool {
	return len(q.Options) > 0
}

// Score compares a submitted answer against the recorded correct answer.
// Multiple choice answers must match the correct option key exactly; free
// responses are compared case-insensitively. There is no partial credit.
func Score(question ScorableQuestion, submitted string) bool {
	answer := strings.TrimSpace(submitted)
	expected := strings.TrimSpace(question.CorrectAnswer)
	if answer == "" || expected == "" {
		return false
	}

	if question.MultipleChoice() {
		return answer == expected
	}

	return strings.EqualFold(collapseSpaces(answer), collapseSpaces(expected))
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
