package placement

// DifficultyConfig bounds the staircase procedure used to pick question levels.
type DifficultyConfig struct {
	Min       int
	Max       int
	Step      int
	ProbeBand int
}

// DefaultDifficultyConfig returns the bounds used when none are configured.
func DefaultDifficultyConfig() DifficultyConfig {
	return DifficultyConfig{
		Min:       1,
		Max:       12,
		Step:      2,
		ProbeBand: 1,
	}
}

// Normalize fills zero values with defaults and orders Min/Max.
func (c DifficultyConfig) Normalize() DifficultyConfig {
	defaults := DefaultDifficultyConfig()
	if c.Min <= 0 && c.Max <= 0 {
		c.Min, c.Max = defaults.Min, defaults.Max
	}
	if c.Max < c.Min {
		c.Min, c.Max = c.Max, c.Min
	}
	if c.Step <= 0 {
		c.Step = defaults.Step
	}
	if c.ProbeBand <= 0 {
		c.ProbeBand = defaults.ProbeBand
	}
	return c
}

// Clamp keeps a level inside [Min, Max].
func (c DifficultyConfig) Clamp(level int) int {
	if level < c.Min {
		return c.Min
	}
	if level > c.Max {
		return c.Max
	}
	return level
}

// AnsweredItem is one graded answer within a subject, in the order it was given.
type AnsweredItem struct {
	Difficulty int
	Correct    bool
}

// Start returns the opening level for a subject.
func (c DifficultyConfig) Start(declaredGrade int) int {
	return c.Clamp(declaredGrade)
}

// Next returns the level of the next question given the last answered item in
// the subject. A nil item means nothing has been answered yet.
//
// This is a bounded staircase, not an IRT estimator.
func (c DifficultyConfig) Next(last *AnsweredItem, declaredGrade int) int {
	if last == nil {
		return c.Start(declaredGrade)
	}
	if last.Correct {
		return c.Clamp(last.Difficulty + c.Step)
	}
	return c.Clamp(last.Difficulty - c.Step)
}

// NextFromHistory replays a subject's answer trajectory and returns the next level.
func (c DifficultyConfig) NextFromHistory(history []AnsweredItem, declaredGrade int) int {
	if len(history) == 0 {
		return c.Start(declaredGrade)
	}
	last := history[len(history)-1]
	return c.Next(&last, declaredGrade)
}

// Probe reports whether a level sits above or below the declared grade band.
func (c DifficultyConfig) Probe(level, declaredGrade int) (probeUp, probeDown bool) {
	return level > declaredGrade+c.ProbeBand, level < declaredGrade-c.ProbeBand
}
