// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"strings"
	"time"

	"github.com/f1/livetiming/internal/config"
)

// raceSwitchGrace mirrors the original binary_sensor.py's grace period:
// the current race still counts as "next" for a short while after its
// scheduled start, so race-week status doesn't drop mid-session.
const raceSwitchGrace = 3 * time.Hour

// NextRace returns the earliest upcoming Race session (not Sprint, Qualifying,
// or Practice) in windows, considering a race "next" until raceSwitchGrace
// after its scheduled start.
func NextRace(windows []SessionWindow, now time.Time) (SessionWindow, bool) {
	ordered := append([]SessionWindow(nil), windows...)
	sortWindows(ordered)
	for _, w := range ordered {
		if !isRaceSession(w.SessionName) {
			continue
		}
		if w.StartUTC.Add(raceSwitchGrace).After(now) {
			return w, true
		}
	}
	return SessionWindow{}, false
}

func isRaceSession(sessionName string) bool {
	name := strings.ToLower(sessionName)
	if strings.Contains(name, "sprint") {
		return false
	}
	return strings.Contains(name, "race")
}

// RaceWeekStatus is the supplemented race-week feature (§8 scenario 1),
// grounded on the original's F1RaceWeekSensor.
type RaceWeekStatus struct {
	IsRaceWeek       bool
	DaysUntilNextRace *int
	NextRaceName     string
}

// ComputeRaceWeek reports whether now falls in the same calendar week
// (per startDay) as the next Race session.
func ComputeRaceWeek(windows []SessionWindow, now time.Time, startDay config.RaceWeekStartDay) RaceWeekStatus {
	race, ok := NextRace(windows, now)
	if !ok {
		return RaceWeekStatus{}
	}

	firstWeekday := time.Monday
	if startDay == config.WeekStartSunday {
		firstWeekday = time.Sunday
	}

	nowDate := now.UTC()
	raceDate := race.StartUTC.UTC()

	daysSinceWeekStart := int(nowDate.Weekday()-firstWeekday+7) % 7
	startOfWeek := truncateToDate(nowDate).AddDate(0, 0, -daysSinceWeekStart)
	endOfWeek := startOfWeek.AddDate(0, 0, 6)

	raceDay := truncateToDate(raceDate)
	isRaceWeek := !raceDay.Before(startOfWeek) && !raceDay.After(endOfWeek)

	days := int(truncateToDate(raceDate).Sub(truncateToDate(nowDate)).Hours() / 24)
	return RaceWeekStatus{
		IsRaceWeek:        isRaceWeek,
		DaysUntilNextRace: &days,
		NextRaceName:      race.MeetingName,
	}
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
