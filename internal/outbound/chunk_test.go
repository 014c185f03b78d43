package outbound

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplit_Short(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Split("hello", 4096))
	assert.Equal(t, []string{""}, Split("", 4096))
}

func TestSplit_HardCut(t *testing.T) {
	text := strings.Repeat("x", 9000)
	chunks := Split(text, MaxMessageLength)

	assert.Len(t, chunks, 3) // ceil(9000/4096)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), MaxMessageLength)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplit_PrefersNewline(t *testing.T) {
	text := "aaaa bbbb\ncccc dddd"
	chunks := Split(text, 12)
	assert.Equal(t, []string{"aaaa bbbb\n", "cccc dddd"}, chunks)
}

func TestSplit_FallsBackToSpace(t *testing.T) {
	text := "aaaa bbbb cccc"
	chunks := Split(text, 12)
	assert.Equal(t, []string{"aaaa bbbb ", "cccc"}, chunks)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 10)
	chunks := Split(text, 4)
	assert.Equal(t, []string{"éééé", "éééé", "éé"}, chunks)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	for i := 0; i < 20; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 1200*time.Millisecond)
		assert.Less(t, d, 2400*time.Millisecond)
	}
	assert.Equal(t, time.Minute, p.Backoff(30))
}
