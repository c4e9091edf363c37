// Package clock provides the single canonical timestamp representation
// used throughout the job store: UTC, fixed-width fractional seconds,
// trailing Z, chosen so that SQLite's lexicographic TEXT ordering on the
// stored column agrees with chronological order.
package clock

import "time"

// Layout is the canonical on-disk timestamp format. All columns that hold
// a point in time (created_at, updated_at, next_run_at, locked_at) are
// written and parsed with this single layout — never time.RFC3339Nano,
// whose variable-width fractional seconds do not sort lexicographically.
const Layout = "2006-01-02T15:04:05.000000Z"

// Clock abstracts wall-clock access so tests can substitute a fake.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Format renders t in the canonical layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse reads a timestamp written with Format.
func Parse(s string) (time.Time, error) {
	return time.Parse(Layout, s)
}

// Now is a convenience wrapper around Real{}.Now, used by call sites that
// don't otherwise need to carry a Clock.
func Now() time.Time {
	return Real{}.Now()
}
