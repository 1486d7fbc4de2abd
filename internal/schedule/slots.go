// Package schedule models the fixed daily timetable: nine teaching slots
// between 09:00 and 16:50 with recess gaps after slots 2, 7 and the lunch
// break after slot 5.
package schedule

import "time"

// Slot is one teaching period of the day.
type Slot struct {
	Number int    `json:"number"`
	Start  string `json:"start"` // HH:MM
	End    string `json:"end"`   // HH:MM
}

// Slots is the daily timetable in slot order.
var Slots = []Slot{
	{Number: 1, Start: "09:00", End: "09:50"},
	{Number: 2, Start: "09:50", End: "10:40"},
	{Number: 3, Start: "10:50", End: "11:40"},
	{Number: 4, Start: "11:40", End: "12:30"},
	{Number: 5, Start: "12:30", End: "13:20"},
	{Number: 6, Start: "13:20", End: "14:10"},
	{Number: 7, Start: "14:10", End: "15:00"},
	{Number: 8, Start: "15:10", End: "16:00"},
	{Number: 9, Start: "16:00", End: "16:50"},
}

// Current returns the slot covering the given time of day, if any. Bounds
// are inclusive, matching how the timetable is taught.
func Current(t time.Time) (Slot, bool) {
	minutes := t.Hour()*60 + t.Minute()
	for _, s := range Slots {
		if minutes >= toMinutes(s.Start) && minutes <= toMinutes(s.End) {
			return s, true
		}
	}
	return Slot{}, false
}

func toMinutes(hhmm string) int {
	h := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	m := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	return h*60 + m
}
