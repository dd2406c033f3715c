package model

import (
	"fmt"
	"time"
)

// SlotCapacity is the number of shares one time slot can hold, whatever the tier.
const SlotCapacity = 7

// windowLength is the duration of a single collection window.
const windowLength = 30 * time.Minute

// daySchedule describes the fixed window list of one sacrifice day.
type daySchedule struct {
	startHour int
	windows   int
}

// schedules holds the fixed per-day window layout: day 1 runs 08:00 AM to
// 04:00 PM, day 2 runs 06:00 AM to 01:00 PM.
var schedules = map[int]daySchedule{
	1: {startHour: 8, windows: 16},
	2: {startHour: 6, windows: 14},
}

// Days lists the valid sacrifice days.
var Days = []int{1, 2}

// ValidDay reports whether day has a schedule.
func ValidDay(day int) bool {
	_, ok := schedules[day]
	return ok
}

// TimeSlots returns the ordered window labels for a day, e.g.
// "08:00 AM - 08:30 AM".  An unknown day yields nil.
func TimeSlots(day int) []string {
	s, ok := schedules[day]
	if !ok {
		return nil
	}
	start := time.Date(2000, 1, 1, s.startHour, 0, 0, 0, time.UTC)
	out := make([]string, 0, s.windows)
	for i := 0; i < s.windows; i++ {
		from := start.Add(time.Duration(i) * windowLength)
		to := from.Add(windowLength)
		out = append(out, fmt.Sprintf("%s - %s", from.Format("03:04 PM"), to.Format("03:04 PM")))
	}
	return out
}

// TimeSlotIndex returns the position of label in the day's schedule, or -1.
func TimeSlotIndex(day int, label string) int {
	for i, l := range TimeSlots(day) {
		if l == label {
			return i
		}
	}
	return -1
}
