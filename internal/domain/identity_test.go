package domain

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+-\d{4}$`)

func TestNewPeerIDFormat(t *testing.T) {
	id := NewPeerID("Alice")
	assert.Regexp(t, idPattern, string(id))
	assert.True(t, strings.HasPrefix(string(id), "alice-"))
}

func TestNewPeerIDSanitizes(t *testing.T) {
	id := NewPeerID("Dr. Strange!! 9")
	assert.Regexp(t, idPattern, string(id))
	assert.True(t, strings.HasPrefix(string(id), "drstrange9-"))
}

func TestNewPeerIDEmptyNameFallsBack(t *testing.T) {
	id := NewPeerID("  !!!  ")
	assert.True(t, strings.HasPrefix(string(id), "guest-"))
}

func TestNewPeerIDBoundsLength(t *testing.T) {
	id := NewPeerID(strings.Repeat("a", 200))
	assert.LessOrEqual(t, len(id), MaxPeerIDLen)
}

func TestValidateDisplayName(t *testing.T) {
	assert.ErrorIs(t, ValidateDisplayName(""), ErrDisplayNameEmpty)
	assert.ErrorIs(t, ValidateDisplayName(strings.Repeat("a", MaxDisplayNameLen+1)), ErrDisplayNameTooLong)
	assert.NoError(t, ValidateDisplayName("Alice"))
	assert.NoError(t, ValidateDisplayName(strings.Repeat("a", MaxDisplayNameLen)))
}
