package abi

import "time"

// UnixTime is a (seconds, nanoseconds) pair anchored to the Unix epoch
type UnixTime struct {
	Sec  uint64
	Nsec uint64
}

// FromTime converts t to wire form. Instants before the epoch clamp to zero.
func FromTime(t time.Time) UnixTime {
	if t.Unix() < 0 {
		return UnixTime{}
	}
	return UnixTime{Sec: uint64(t.Unix()), Nsec: uint64(t.Nanosecond())}
}

// Time converts back to a time.Time in UTC
func (u UnixTime) Time() time.Time {
	return time.Unix(int64(u.Sec), int64(u.Nsec)).UTC()
}

// IsZero reports whether both components are zero
func (u UnixTime) IsZero() bool {
	return u.Sec == 0 && u.Nsec == 0
}
