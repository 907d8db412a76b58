package textproc

import (
	"strings"
)

// ProfanityAction is the outcome of a profanity scan.
type ProfanityAction int

const (
	ProfanityAllow ProfanityAction = iota
	ProfanityBlock
)

// ProfanityResult carries the scan outcome. Filtered holds the content with
// matched terms redacted when the message is allowed through.
type ProfanityResult struct {
	Action      ProfanityAction
	Filtered    string
	Matched     []string
	MaxSeverity int

	// AutoWarn is set when a blocked term's severity reaches the warning
	// threshold, which triggers an automatic moderation warning.
	AutoWarn bool
}

// ProfanityFilter scans messages against a severity-weighted word list with
// a whitelist of exempt terms. Terms below the block severity are redacted;
// terms at or above it block the message outright.
type ProfanityFilter struct {
	words         map[string]int
	whitelist     map[string]struct{}
	blockSeverity int
	warnSeverity  int
}

// defaultWordList maps terms to severities. Severity grows with how
// disruptive the term is in a hosted interview room.
var defaultWordList = map[string]int{
	"damn":    1,
	"hell":    1,
	"crap":    1,
	"bloody":  1,
	"bastard": 2,
	"piss":    2,
	"shit":    3,
	"bitch":   3,
	"asshole": 3,
	"fuck":    4,
	"fucking": 4,
	"cunt":    5,
}

var defaultWhitelist = []string{
	"hello", // contains "hell"
	"shell",
	"class",
	"assassin",
	"scrap",
}

// NewProfanityFilter builds a filter with the default word list.
// blockSeverity is the severity at or above which a match blocks instead of
// redacting; warnSeverity additionally triggers an automatic warning.
func NewProfanityFilter(blockSeverity, warnSeverity int) *ProfanityFilter {
	if blockSeverity <= 0 {
		blockSeverity = 3
	}
	if warnSeverity <= 0 {
		warnSeverity = blockSeverity
	}
	words := make(map[string]int, len(defaultWordList))
	for w, sev := range defaultWordList {
		words[w] = sev
	}
	whitelist := make(map[string]struct{}, len(defaultWhitelist))
	for _, w := range defaultWhitelist {
		whitelist[w] = struct{}{}
	}
	return &ProfanityFilter{
		words:         words,
		whitelist:     whitelist,
		blockSeverity: blockSeverity,
		warnSeverity:  warnSeverity,
	}
}

// AddWord extends the maintained word list.
func (f *ProfanityFilter) AddWord(word string, severity int) {
	f.words[strings.ToLower(word)] = severity
}

// Whitelist exempts a term from matching.
func (f *ProfanityFilter) Whitelist(word string) {
	f.whitelist[strings.ToLower(word)] = struct{}{}
}

// Scan checks the content and either blocks it or returns a redacted copy.
func (f *ProfanityFilter) Scan(content string) ProfanityResult {
	res := ProfanityResult{Action: ProfanityAllow, Filtered: content}

	tokens := strings.Fields(content)
	replacements := make(map[string]string)

	for _, token := range tokens {
		normalized := normalizeToken(token)
		if normalized == "" {
			continue
		}
		if _, ok := f.whitelist[normalized]; ok {
			continue
		}
		severity, ok := f.words[normalized]
		if !ok {
			continue
		}

		res.Matched = append(res.Matched, normalized)
		if severity > res.MaxSeverity {
			res.MaxSeverity = severity
		}
		if severity >= f.blockSeverity {
			res.Action = ProfanityBlock
			if severity >= f.warnSeverity {
				res.AutoWarn = true
			}
			continue
		}
		replacements[normalized] = strings.Repeat("*", len(normalized))
	}

	if res.Action == ProfanityBlock {
		res.Filtered = ""
		return res
	}

	if len(replacements) > 0 {
		filtered := make([]string, len(tokens))
		for i, token := range tokens {
			normalized := normalizeToken(token)
			if redacted, ok := replacements[normalized]; ok {
				filtered[i] = strings.Replace(strings.ToLower(token), normalized, redacted, 1)
			} else {
				filtered[i] = token
			}
		}
		res.Filtered = strings.Join(filtered, " ")
	}

	return res
}

// normalizeToken lowercases a token and strips surrounding punctuation so
// "Damn!" still matches "damn".
func normalizeToken(token string) string {
	return strings.Trim(strings.ToLower(token), ".,!?;:\"'()[]{}")
}
