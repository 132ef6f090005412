package equipment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 form used on the wire and in persisted client state.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp is a UTC instant with millisecond precision.
type Timestamp struct {
	instant time.Time
}

// Epoch is the watermark used by a client that has never pulled.
var Epoch = NewTimestamp(time.Unix(0, 0))

// NewTimestamp normalises value to UTC and truncates it to milliseconds so that
// serialised and in-memory values compare equal.
func NewTimestamp(value time.Time) Timestamp {
	return Timestamp{instant: value.UTC().Truncate(time.Millisecond)}
}

// ParseTimestamp parses an ISO-8601 timestamp with optional fractional seconds.
func ParseTimestamp(rawInput string) (Timestamp, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return Timestamp{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return Timestamp{}, fmt.Errorf("equipment: invalid timestamp %q: %w", rawInput, err)
	}
	return NewTimestamp(parsed), nil
}

// MustParseTimestamp is ParseTimestamp for literals known to be valid.
func MustParseTimestamp(rawInput string) Timestamp {
	ts, err := ParseTimestamp(rawInput)
	if err != nil {
		panic(err)
	}
	return ts
}

// Time exposes the underlying instant.
func (ts Timestamp) Time() time.Time {
	return ts.instant
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts.instant.IsZero()
}

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.instant.After(other.instant)
}

// Equal reports whether both timestamps denote the same instant.
func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.instant.Equal(other.instant)
}

// String formats the timestamp using TimestampLayout; the zero value formats as "".
func (ts Timestamp) String() string {
	if ts.instant.IsZero() {
		return ""
	}
	return ts.instant.Format(TimestampLayout)
}

// MarshalJSON encodes the timestamp as a string, or null when unset.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.instant.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.String())
}

// UnmarshalJSON accepts an ISO-8601 string or null.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("equipment: timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
