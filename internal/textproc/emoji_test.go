package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandShortcodes(t *testing.T) {
	e := NewEmojiExpander()

	expanded, count := e.Expand("great answer :thumbsup: :tada:")
	assert.Equal(t, "great answer 👍 🎉", expanded)
	assert.Equal(t, 2, count)
}

func TestExpandUnknownShortcodePassesThrough(t *testing.T) {
	e := NewEmojiExpander()

	expanded, count := e.Expand("what is :nonexistent: here")
	assert.Equal(t, "what is :nonexistent: here", expanded)
	assert.Zero(t, count)
}

func TestExpandNoShortcodes(t *testing.T) {
	e := NewEmojiExpander()

	expanded, count := e.Expand("plain 10:30 schedule")
	assert.Equal(t, "plain 10:30 schedule", expanded)
	assert.Zero(t, count)
}

func TestLookup(t *testing.T) {
	e := NewEmojiExpander()

	glyph, ok := e.Lookup("fire")
	assert.True(t, ok)
	assert.Equal(t, "🔥", glyph)

	_, ok = e.Lookup("not-an-emoji")
	assert.False(t, ok)
}
