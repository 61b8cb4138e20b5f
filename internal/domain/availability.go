package domain

// AvailabilityWindow is one weekly time window of an agent's schedule.
// DayOfWeek follows time.Weekday numbering: 0 = Sunday .. 6 = Saturday.
type AvailabilityWindow struct {
	DayOfWeek int
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"
	Timezone  string
	IsActive  bool
}
