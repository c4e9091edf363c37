package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 5, 12, 30, 45, 123456000, time.UTC)
	s := Format(in)
	assert.Equal(t, "2026-03-05T12:30:45.123456Z", s)

	out, err := Parse(s)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestFormatIsLexicographicallyOrdered(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 1, 1, 0, 0, 0, 500000, time.UTC)
	assert.Less(t, Format(earlier), Format(later))
}

type fakeClock struct{ t time.Time }

func (f fakeClock) Now() time.Time { return f.t }

func TestFakeClockSatisfiesInterface(t *testing.T) {
	var c Clock = fakeClock{t: time.Unix(0, 0)}
	assert.Equal(t, time.Unix(0, 0), c.Now())
}
