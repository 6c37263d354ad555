package core

import (
	"time"
)

// Timestamp wraps time.Time for consistent UTC handling across the engine.
type Timestamp struct {
	t time.Time
}

// Now returns the current UTC timestamp.
func Now() Timestamp {
	return Timestamp{t: time.Now().UTC()}
}

// NewTimestamp creates a timestamp from a time.Time, normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

func (ts Timestamp) Time() time.Time {
	return ts.t
}

func (ts Timestamp) IsZero() bool {
	return ts.t.IsZero()
}

func (ts Timestamp) Unix() int64 {
	return ts.t.Unix()
}

func (ts Timestamp) Format(layout string) string {
	return ts.t.Format(layout)
}

func (ts Timestamp) String() string {
	return ts.t.Format(time.RFC3339)
}

func (ts Timestamp) Before(other Timestamp) bool {
	return ts.t.Before(other.t)
}

func (ts Timestamp) After(other Timestamp) bool {
	return ts.t.After(other.t)
}

func (ts Timestamp) Sub(other Timestamp) time.Duration {
	return ts.t.Sub(other.t)
}

// MarshalJSON emits RFC3339, the same shape time.Time would use.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return ts.t.MarshalJSON()
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	return ts.t.UnmarshalJSON(data)
}
