package domain

import "time"

const (
	MinStrictness     = 1
	MaxStrictness     = 5
	DefaultStrictness = 3
)

// Settings are the operator controls applied to each new inspection.
type Settings struct {
	Strictness int
	NoBrand    bool
}

// Valid reports whether the strictness level is within range.
func (s Settings) Valid() bool {
	return s.Strictness >= MinStrictness && s.Strictness <= MaxStrictness
}

// Counters are the session accept/reject tallies reset by a clear.
type Counters struct {
	Accepted int64
	Rejected int64
}

// RuntimeState is what survives a restart besides inspection history.
type RuntimeState struct {
	Settings  Settings
	ClearedAt time.Time
}
