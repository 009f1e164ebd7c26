package osc

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	// secondsFrom1900To1970 is the offset between the NTP and Unix epochs.
	secondsFrom1900To1970 = 2208988800

	// immediately is the reserved time tag meaning "execute on receipt".
	immediately = uint64(1)

	ntpScale = 1 << 32
)

// Timestamp is the execution time of a Bundle, in seconds since the Unix
// epoch. The zero value means "immediately".
type Timestamp struct {
	seconds float64
	set     bool
}

// Immediately is the zero Timestamp.
var Immediately Timestamp

// At returns a Timestamp for the given number of seconds since the Unix epoch.
// The wire carries 32.32 fixed point NTP time, so a decoded Timestamp may
// hold slightly different seconds; Equal compares at that resolution.
func At(seconds float64) Timestamp {
	return Timestamp{seconds: seconds, set: true}
}

// FromTime returns a Timestamp for t.
func FromTime(t time.Time) Timestamp {
	return At(float64(t.UnixNano()) / float64(time.Second))
}

// IsImmediate reports whether t carries no real time.
func (t Timestamp) IsImmediate() bool {
	return !t.set
}

// Seconds returns the Unix time in seconds, and false for Immediately.
func (t Timestamp) Seconds() (float64, bool) {
	return t.seconds, t.set
}

// Time converts t to a time.Time. Immediately converts to the zero time.
func (t Timestamp) Time() time.Time {
	if !t.set {
		return time.Time{}
	}
	sec, frac := math.Modf(t.seconds)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Equal reports whether t and other encode to the same time tag. Times that
// cannot be encoded compare by their seconds.
func (t Timestamp) Equal(other Timestamp) bool {
	if t.set != other.set {
		return false
	}
	if !t.set {
		return true
	}
	a, errA := t.ntp(true)
	b, errB := other.ntp(true)
	if errA != nil || errB != nil {
		return t.seconds == other.seconds
	}
	return a == b
}

func (t Timestamp) String() string {
	if !t.set {
		return "immediately"
	}
	return strconv.FormatFloat(t.seconds, 'f', -1, 64)
}

// ntp renders t as a 32.32 fixed point time tag. Realtime tags are offset to
// the NTP epoch; non-realtime tags count seconds from zero.
func (t Timestamp) ntp(realtime bool) (uint64, error) {
	if !t.set {
		return immediately, nil
	}
	seconds := t.seconds
	if realtime {
		seconds += secondsFrom1900To1970
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("%w: timestamp %v cannot be encoded", ErrMalformedInput, t.seconds)
	}
	if seconds >= ntpScale {
		seconds = math.Mod(seconds, ntpScale)
	}
	return uint64(seconds * ntpScale), nil
}

func timestampFromNTP(tag uint64) Timestamp {
	if tag == immediately {
		return Immediately
	}
	return At(float64(tag)/ntpScale - secondsFrom1900To1970)
}
