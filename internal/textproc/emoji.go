package textproc

import (
	"regexp"
)

var shortcodePattern = regexp.MustCompile(`:([a-z0-9_+-]+):`)

// shortcodes maps emoji shortcode names to their glyphs. The set covers
// the reactions the interview rooms expose in their pickers.
var shortcodes = map[string]string{
	"smile":         "😄",
	"grin":          "😁",
	"laughing":      "😆",
	"joy":           "😂",
	"wink":          "😉",
	"blush":         "😊",
	"thinking":      "🤔",
	"neutral":       "😐",
	"cry":           "😢",
	"angry":         "😠",
	"heart":         "❤️",
	"broken_heart":  "💔",
	"thumbsup":      "👍",
	"+1":            "👍",
	"thumbsdown":    "👎",
	"-1":            "👎",
	"clap":          "👏",
	"wave":          "👋",
	"raised_hands":  "🙌",
	"pray":          "🙏",
	"fire":          "🔥",
	"tada":          "🎉",
	"rocket":        "🚀",
	"eyes":          "👀",
	"100":           "💯",
	"check":         "✅",
	"x":             "❌",
	"question":      "❓",
	"bulb":          "💡",
	"microphone":    "🎤",
	"video_camera":  "📹",
	"handshake":     "🤝",
	"star":          "⭐",
	"ok_hand":       "👌",
	"muscle":        "💪",
}

// EmojiExpander resolves :shortcode: tokens to their glyphs.
type EmojiExpander struct{}

// NewEmojiExpander creates an expander over the built-in shortcode set.
func NewEmojiExpander() *EmojiExpander {
	return &EmojiExpander{}
}

// Expand replaces known shortcodes and returns the expanded content plus
// the number of expansions. Unknown shortcodes pass through untouched.
func (e *EmojiExpander) Expand(content string) (string, int) {
	count := 0
	expanded := shortcodePattern.ReplaceAllStringFunc(content, func(token string) string {
		name := token[1 : len(token)-1]
		if glyph, ok := shortcodes[name]; ok {
			count++
			return glyph
		}
		return token
	})
	return expanded, count
}

// Lookup resolves a single shortcode name, used for reaction events.
func (e *EmojiExpander) Lookup(name string) (string, bool) {
	glyph, ok := shortcodes[name]
	return glyph, ok
}
