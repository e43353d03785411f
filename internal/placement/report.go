package placement

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	highAccuracy     = 0.8
	lowAccuracy      = 0.5
	highConfidence   = 0.7
	mediumConfidence = 0.5
	defaultSkill     = "general"
)

// ResponseRecord is the report-relevant view of one recorded answer.
type ResponseRecord struct {
	Subject          Subject
	Skill            string
	Difficulty       int
	Correct          bool
	ProbeUp          bool
	ProbeDown        bool
	TimeSpentSeconds int
}

// ReportInput is everything the synthesizer needs. Nothing else is consulted.
type ReportInput struct {
	DeclaredGrade int
	Subjects      []Subject
	Responses     []ResponseRecord
}

// SkillBuckets lists skill tags by proficiency. Every list is sorted.
type SkillBuckets struct {
	Mastered      []string `json:"mastered"`
	Competent     []string `json:"competent"`
	Gap           []string `json:"gap"`
	NotIntroduced []string `json:"not_introduced"`
}

// SubjectPlacement is the synthesized outcome for one subject.
type SubjectPlacement struct {
	Subject           Subject      `json:"subject"`
	Title             string       `json:"title"`
	Assessed          bool         `json:"assessed"`
	QuestionsAnswered int          `json:"questions_answered"`
	CorrectAnswers    int          `json:"correct_answers"`
	Accuracy          float64      `json:"accuracy"`
	AverageDifficulty float64      `json:"average_difficulty"`
	ComfortableGrade  int          `json:"comfortable_grade"`
	Confidence        Confidence   `json:"confidence"`
	ProbeUps          int          `json:"probe_ups"`
	ProbeDowns        int          `json:"probe_downs"`
	AverageSeconds    float64      `json:"average_seconds"`
	Skills            SkillBuckets `json:"skills"`
}

// Report is the placement report derived from a completed session's responses.
type Report struct {
	DeclaredGrade   int                `json:"declared_grade"`
	Placements      []SubjectPlacement `json:"placements"`
	Strengths       []Subject          `json:"strengths"`
	GrowthAreas     []Subject          `json:"growth_areas"`
	TotalAnswered   int                `json:"total_answered"`
	OverallAccuracy float64            `json:"overall_accuracy"`
	Summary         string             `json:"summary"`
}

// BySubject indexes placements by subject.
func (r Report) BySubject() map[Subject]SubjectPlacement {
	result := make(map[Subject]SubjectPlacement, len(r.Placements))
	for _, placement := range r.Placements {
		result[placement.Subject] = placement
	}
	return result
}

// Synthesize aggregates responses into a placement report. It is a pure
// function of its arguments, so re-running it over the same responses yields
// an identical report.
func Synthesize(input ReportInput, cfg DifficultyConfig) Report {
	cfg = cfg.Normalize()

	order := orderedSubjects(input)
	grouped := make(map[Subject][]ResponseRecord, len(order))
	for _, response := range input.Responses {
		grouped[response.Subject] = append(grouped[response.Subject], response)
	}

	report := Report{
		DeclaredGrade: input.DeclaredGrade,
		Placements:    make([]SubjectPlacement, 0, len(order)),
		Strengths:     []Subject{},
		GrowthAreas:   []Subject{},
	}

	var totalCorrect int
	for _, subject := range order {
		placement := placeSubject(subject, grouped[subject], input.DeclaredGrade, cfg)
		report.Placements = append(report.Placements, placement)

		if !placement.Assessed {
			continue
		}
		report.TotalAnswered += placement.QuestionsAnswered
		totalCorrect += placement.CorrectAnswers
		if placement.ComfortableGrade >= input.DeclaredGrade {
			report.Strengths = append(report.Strengths, subject)
		} else {
			report.GrowthAreas = append(report.GrowthAreas, subject)
		}
	}

	if report.TotalAnswered > 0 {
		report.OverallAccuracy = roundTo(float64(totalCorrect)/float64(report.TotalAnswered), 4)
	}
	report.Summary = summarize(report)

	return report
}

// orderedSubjects keeps the session's subject order and appends any subject
// that only appears in responses, sorted by name.
func orderedSubjects(input ReportInput) []Subject {
	seen := make(map[Subject]struct{}, len(input.Subjects))
	order := make([]Subject, 0, len(input.Subjects))
	for _, subject := range input.Subjects {
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		order = append(order, subject)
	}

	var extra []Subject
	for _, response := range input.Responses {
		if _, ok := seen[response.Subject]; ok {
			continue
		}
		seen[response.Subject] = struct{}{}
		extra = append(extra, response.Subject)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })

	return append(order, extra...)
}

func placeSubject(subject Subject, responses []ResponseRecord, declaredGrade int, cfg DifficultyConfig) SubjectPlacement {
	placement := SubjectPlacement{
		Subject:    subject,
		Title:      subject.Title(),
		Confidence: ConfidenceLow,
		Skills:     emptyBuckets(),
	}
	if len(responses) == 0 {
		return placement
	}

	var correct, difficultySum, secondsSum int
	for _, response := range responses {
		if response.Correct {
			correct++
		}
		if response.ProbeUp {
			placement.ProbeUps++
		}
		if response.ProbeDown {
			placement.ProbeDowns++
		}
		difficultySum += response.Difficulty
		secondsSum += response.TimeSpentSeconds
	}

	count := float64(len(responses))
	accuracy := float64(correct) / count
	average := float64(difficultySum) / count

	placement.Assessed = true
	placement.QuestionsAnswered = len(responses)
	placement.CorrectAnswers = correct
	placement.Accuracy = roundTo(accuracy, 4)
	placement.AverageDifficulty = roundTo(average, 2)
	placement.AverageSeconds = roundTo(float64(secondsSum)/count, 1)
	placement.ComfortableGrade = comfortableGrade(accuracy, average, cfg)
	placement.Confidence = confidenceFor(accuracy)
	placement.Skills = bucketSkills(responses, declaredGrade)

	return placement
}

func comfortableGrade(accuracy, averageDifficulty float64, cfg DifficultyConfig) int {
	level := int(math.Round(averageDifficulty))
	switch {
	case accuracy >= highAccuracy:
		return cfg.Clamp(level + 1)
	case accuracy < lowAccuracy:
		return cfg.Clamp(level - 1)
	default:
		return cfg.Clamp(level)
	}
}

func confidenceFor(accuracy float64) Confidence {
	switch {
	case accuracy >= highConfidence:
		return ConfidenceHigh
	case accuracy >= mediumConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

type skillTally struct {
	answered         int
	correct          int
	missedInGrade    int
	missedAboveGrade int
}

func bucketSkills(responses []ResponseRecord, declaredGrade int) SkillBuckets {
	tallies := map[string]*skillTally{}
	for _, response := range responses {
		skill := strings.ToLower(strings.TrimSpace(response.Skill))
		if skill == "" {
			skill = defaultSkill
		}
		tally, ok := tallies[skill]
		if !ok {
			tally = &skillTally{}
			tallies[skill] = tally
		}
		tally.answered++
		switch {
		case response.Correct:
			tally.correct++
		case response.Difficulty > declaredGrade:
			tally.missedAboveGrade++
		default:
			tally.missedInGrade++
		}
	}

	buckets := emptyBuckets()
	for skill, tally := range tallies {
		accuracy := float64(tally.correct) / float64(tally.answered)
		switch {
		case accuracy >= highAccuracy:
			buckets.Mastered = append(buckets.Mastered, skill)
		case accuracy >= lowAccuracy:
			buckets.Competent = append(buckets.Competent, skill)
		case tally.missedInGrade == 0:
			buckets.NotIntroduced = append(buckets.NotIntroduced, skill)
		default:
			buckets.Gap = append(buckets.Gap, skill)
		}
	}

	sort.Strings(buckets.Mastered)
	sort.Strings(buckets.Competent)
	sort.Strings(buckets.Gap)
	sort.Strings(buckets.NotIntroduced)
	return buckets
}

func emptyBuckets() SkillBuckets {
	return SkillBuckets{
		Mastered:      []string{},
		Competent:     []string{},
		Gap:           []string{},
		NotIntroduced: []string{},
	}
}

func summarize(report Report) string {
	if report.TotalAnswered == 0 {
		return "No placement questions were answered, so no grade levels could be estimated yet."
	}

	placements := report.BySubject()
	parts := make([]string, 0, 4)

	if len(report.Strengths) > 0 {
		parts = append(parts, fmt.Sprintf("Working comfortably at or above grade %d in %s.", report.DeclaredGrade, joinSubjects(report.Strengths, placements, false)))
	} else {
		parts = append(parts, fmt.Sprintf("Not yet comfortable at grade %d in any assessed subject.", report.DeclaredGrade))
	}

	if len(report.GrowthAreas) > 0 {
		parts = append(parts, fmt.Sprintf("Growth areas: %s.", joinSubjects(report.GrowthAreas, placements, true)))
	}

	var gaps int
	for _, placement := range report.Placements {
		gaps += len(placement.Skills.Gap)
	}
	if gaps == 1 {
		parts = append(parts, "1 skill needs focused review.")
	} else if gaps > 1 {
		parts = append(parts, fmt.Sprintf("%d skills need focused review.", gaps))
	}

	parts = append(parts, fmt.Sprintf("Overall accuracy %d%% across %d questions.", int(math.Round(report.OverallAccuracy*100)), report.TotalAnswered))

	return strings.Join(parts, " ")
}

func joinSubjects(subjects []Subject, placements map[Subject]SubjectPlacement, withLevel bool) string {
	names := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		name := subject.Title()
		if withLevel {
			name = fmt.Sprintf("%s (comfortable at grade %d)", name, placements[subject].ComfortableGrade)
		}
		names = append(names, name)
	}
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func roundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
