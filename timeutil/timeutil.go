// Package timeutil provides the hour-number and date-number arithmetic used
// for submission stamping, retrieval windows, and retention horizons. All math
// is UTC; an hour number is hours since the Unix epoch, a date number is days
// since the Unix epoch.
package timeutil

import "time"

const (
	SecondsInHour = 3600
	SecondsInDay  = 86400
	HoursInDay    = 24

	// RollingIntervalsPerDay is the number of 10-minute rolling intervals in
	// one UTC day, and the only rolling period the upload handler accepts.
	RollingIntervalsPerDay = 144
)

// HourNumber returns hours elapsed since the Unix epoch at t.
func HourNumber(t time.Time) uint32 {
	return uint32(t.Unix() / SecondsInHour)
}

// DateNumber returns days elapsed since the Unix epoch at t.
func DateNumber(t time.Time) uint32 {
	return uint32(t.Unix() / SecondsInDay)
}

// CurrentDateNumber returns the date number for the current wall clock.
func CurrentDateNumber() uint32 {
	return DateNumber(time.Now())
}

// MostRecentUTCMidnight truncates t to the start of its UTC day.
func MostRecentUTCMidnight(t time.Time) time.Time {
	return time.Unix((t.UTC().Unix()/SecondsInDay)*SecondsInDay, 0).UTC()
}

// HourNumberAtStartOfDate returns the hour number of midnight on the given
// date number.
func HourNumberAtStartOfDate(dateNumber uint32) uint32 {
	return dateNumber * HoursInDay
}

// RollingStartIntervalNumberPlusDays shifts a rolling start interval number by
// whole days.
func RollingStartIntervalNumberPlusDays(rsin int32, days int) int32 {
	return int32(int(rsin) + days*RollingIntervalsPerDay)
}

// CurrentRollingStartIntervalNumber returns the rolling interval number for
// the start of the current UTC day.
func CurrentRollingStartIntervalNumber() int32 {
	interval := int32(time.Now().Unix() / 600)
	return (interval / RollingIntervalsPerDay) * RollingIntervalsPerDay
}
