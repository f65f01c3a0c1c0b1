package exchange

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 200))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// "ż" is two bytes; a cut at byte 200 would land inside the last one.
	body := strings.Repeat("a", 199) + strings.Repeat("ż", 10)
	got := truncate(body, 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 199)+"...", got)

	got = truncate(strings.Repeat("ż", 150), 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ż", 100)+"...", got)
}
