package guard

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"live-interview-chat/backend/pkg/errors"
	"live-interview-chat/backend/pkg/jwt"
	"live-interview-chat/backend/pkg/logger"
)

// Verdict is the spam classification for a message.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictWarn
	VerdictBlock
)

var linkPattern = regexp.MustCompile(`https?://[^\s]+`)

// Config tunes the sliding-window limiter and the spam heuristics.
type Config struct {
	Window         time.Duration
	ParticipantCap int
	HostCap        int
	ModeratorCap   int

	MaxRepetitionRatio float64
	DuplicateLimit     int
	DuplicateMemory    int
	MaxLinks           int
	PenaltyDuration    time.Duration
}

// DefaultConfig returns the defaults used when no tuning is supplied.
func DefaultConfig() Config {
	return Config{
		Window:             60 * time.Second,
		ParticipantCap:     10,
		HostCap:            30,
		ModeratorCap:       60,
		MaxRepetitionRatio: 0.6,
		DuplicateLimit:     3,
		DuplicateMemory:    5,
		MaxLinks:           3,
		PenaltyDuration:    2 * time.Minute,
	}
}

// Penalty is a time-boxed sanction installed by a spam block. While active
// it preempts chat and command attempts.
type Penalty struct {
	Reason    string
	ExpiresAt time.Time
}

type identityState struct {
	timestamps []time.Time
	recent     []string
}

// Guard keeps per-identity rate-limit windows and spam state. All state is
// mutated behind one lock; the pipeline is the only caller.
type Guard struct {
	mu        sync.Mutex
	cfg       Config
	state     map[string]*identityState
	penalties map[string]Penalty
	log       *logger.Logger

	now func() time.Time
}

// New creates a guard with the given tuning.
func New(cfg Config, log *logger.Logger) *Guard {
	if cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &Guard{
		cfg:       cfg,
		state:     make(map[string]*identityState),
		penalties: make(map[string]Penalty),
		log:       log,
		now:       time.Now,
	}
}

// CapForRole returns the in-window message cap for a role.
func (g *Guard) CapForRole(role jwt.Role) int {
	switch role {
	case jwt.RoleModerator, jwt.RoleAdmin:
		return g.cfg.ModeratorCap
	case jwt.RoleHost:
		return g.cfg.HostCap
	default:
		return g.cfg.ParticipantCap
	}
}

// ActivePenalty returns the identity's penalty if one is still in force.
func (g *Guard) ActivePenalty(identity string) (Penalty, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.penalties[identity]
	if !ok {
		return Penalty{}, false
	}
	if g.now().After(p.ExpiresAt) {
		delete(g.penalties, identity)
		return Penalty{}, false
	}
	return p, true
}

// CheckRate enforces the sliding-window cap for the identity's role. On
// success the message timestamp is recorded; on rejection the returned
// error carries retry-after equal to the time until the oldest in-window
// timestamp leaves the window.
func (g *Guard) CheckRate(identity string, role jwt.Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.stateLocked(identity)

	cutoff := now.Add(-g.cfg.Window)
	kept := st.timestamps[:0]
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.timestamps = kept

	limit := g.capLocked(role)
	if len(st.timestamps) >= limit {
		retryAfter := g.cfg.Window - now.Sub(st.timestamps[0])
		if retryAfter < 0 {
			retryAfter = 0
		}
		return errors.NewRateLimitError(
			"RATE_CAP_EXCEEDED",
			"Message rate cap reached, slow down",
			retryAfter,
		)
	}

	st.timestamps = append(st.timestamps, now)
	return nil
}

// ScoreSpam classifies a message against the content heuristics: character
// repetition, repeated identical messages and link density. A block verdict
// installs a time-boxed penalty on the identity.
func (g *Guard) ScoreSpam(identity, content string, role jwt.Role) (Verdict, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateLocked(identity)
	trimmed := strings.TrimSpace(content)
	verdict, reason := g.classifyLocked(st, trimmed, role)

	// Remember the normalized text regardless of outcome so whitespace
	// variants still count as duplicates.
	st.recent = append(st.recent, trimmed)
	if len(st.recent) > g.cfg.DuplicateMemory {
		st.recent = st.recent[len(st.recent)-g.cfg.DuplicateMemory:]
	}

	if verdict == VerdictBlock {
		g.penalties[identity] = Penalty{
			Reason:    reason,
			ExpiresAt: g.now().Add(g.cfg.PenaltyDuration),
		}
		g.log.Warn("spam penalty installed", "identity", identity, "reason", reason)
	}
	return verdict, reason
}

// ClearPenalty removes an identity's active penalty, used when a moderator
// reverses an automatic sanction.
func (g *Guard) ClearPenalty(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.penalties, identity)
}

// Forget drops rate-limit and spam state for an identity.
func (g *Guard) Forget(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.state, identity)
}

// classifyLocked expects content already trimmed of surrounding whitespace.
func (g *Guard) classifyLocked(st *identityState, trimmed string, role jwt.Role) (Verdict, string) {
	// Repeated identical messages
	duplicates := 0
	for _, prev := range st.recent {
		if prev == trimmed {
			duplicates++
		}
	}
	if duplicates+1 >= g.cfg.DuplicateLimit {
		return VerdictBlock, "repeated identical messages"
	}

	// Character repetition ratio, only meaningful on longer messages
	if ratio, long := repetitionRatio(trimmed); long {
		if ratio >= g.cfg.MaxRepetitionRatio {
			return VerdictBlock, "excessive character repetition"
		}
		if ratio >= g.cfg.MaxRepetitionRatio*0.75 {
			return VerdictWarn, "high character repetition"
		}
	}

	// Link density for unprivileged roles
	if !role.IsPrivileged() {
		links := len(linkPattern.FindAllString(trimmed, -1))
		if links > g.cfg.MaxLinks {
			return VerdictBlock, "excessive links"
		}
		if links == g.cfg.MaxLinks {
			return VerdictWarn, "link-heavy message"
		}
	}

	return VerdictAllow, ""
}

func (g *Guard) stateLocked(identity string) *identityState {
	st, ok := g.state[identity]
	if !ok {
		st = &identityState{}
		g.state[identity] = st
	}
	return st
}

func (g *Guard) capLocked(role jwt.Role) int {
	switch role {
	case jwt.RoleModerator, jwt.RoleAdmin:
		return g.cfg.ModeratorCap
	case jwt.RoleHost:
		return g.cfg.HostCap
	default:
		return g.cfg.ParticipantCap
	}
}

// repetitionRatio returns the share of the message taken by its most
// frequent rune. The bool is false for messages too short to judge.
func repetitionRatio(content string) (float64, bool) {
	runes := []rune(content)
	if len(runes) < 12 {
		return 0, false
	}
	counts := make(map[rune]int)
	max := 0
	for _, r := range runes {
		if r == ' ' {
			continue
		}
		counts[r]++
		if counts[r] > max {
			max = counts[r]
		}
	}
	if len(counts) == 0 {
		return 0, false
	}
	return float64(max) / float64(len(runes)), true
}
