package pipeline

import (
	"regexp"
	"unicode"
)

// ScoringConfig tunes the rule-based content checks that run after the
// profanity filter.
type ScoringConfig struct {
	MaxCapsRatio       float64
	MaxLinksPerMessage int
}

// DefaultScoringConfig returns the default scoring tuning.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MaxCapsRatio:       0.8,
		MaxLinksPerMessage: 5,
	}
}

// scoreVerdict is the aggregate outcome of the scoring rules.
type scoreVerdict struct {
	Allowed  bool
	Reason   string
	Severity int
	Warnings []string
}

var (
	scoreLinkPattern = regexp.MustCompile(`https?://[^\s]+`)

	// bannedPatterns catch phrasing the rooms never allow regardless of
	// the profanity list.
	bannedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)free\s+(money|crypto|bitcoin)`),
		regexp.MustCompile(`(?i)click\s+here\s+to\s+(claim|win)`),
		regexp.MustCompile(`(?i)(buy|sell)\s+followers`),
	}
)

// scorer applies the rule-based content checks: banned patterns, shouting
// and link flooding.
type scorer struct {
	cfg ScoringConfig
}

func newScorer(cfg ScoringConfig) *scorer {
	if cfg.MaxCapsRatio <= 0 {
		cfg = DefaultScoringConfig()
	}
	return &scorer{cfg: cfg}
}

func (s *scorer) Score(content string) scoreVerdict {
	verdict := scoreVerdict{Allowed: true}

	for _, pattern := range bannedPatterns {
		if pattern.MatchString(content) {
			return scoreVerdict{
				Allowed:  false,
				Reason:   "banned pattern",
				Severity: 4,
			}
		}
	}

	if ratio, enough := capsRatio(content); enough && ratio > s.cfg.MaxCapsRatio {
		verdict.Warnings = append(verdict.Warnings, "excessive caps")
		verdict.Allowed = false
		verdict.Reason = "excessive caps"
		verdict.Severity = 1
		return verdict
	}

	if links := len(scoreLinkPattern.FindAllString(content, -1)); links > s.cfg.MaxLinksPerMessage {
		return scoreVerdict{
			Allowed:  false,
			Reason:   "too many links",
			Severity: 2,
		}
	}

	return verdict
}

// capsRatio measures the uppercase share of the letters in the content.
// The bool is false when there are too few letters to judge.
func capsRatio(content string) (float64, bool) {
	letters, upper := 0, 0
	for _, r := range content {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 10 {
		return 0, false
	}
	return float64(upper) / float64(letters), true
}
