package model

import "time"

type TimeFrame string

const (
	TimeFrameAll       TimeFrame = "all"
	TimeFrameLastDay   TimeFrame = "24h"
	TimeFrameLastWeek  TimeFrame = "7d"
	TimeFrameLastMonth TimeFrame = "30d"
)

const (
	lastDayDuration   = 24 * time.Hour
	lastWeekDuration  = 7 * lastDayDuration
	lastMonthDuration = 30 * lastDayDuration
)

// Window returns how far back the time frame reaches. The boolean is false for
// "all" and for unrecognized values.
func (timeFrame TimeFrame) Window() (time.Duration, bool) {
	switch timeFrame {
	case TimeFrameLastDay:
		return lastDayDuration, true
	case TimeFrameLastWeek:
		return lastWeekDuration, true
	case TimeFrameLastMonth:
		return lastMonthDuration, true
	default:
		return 0, false
	}
}

type SortOrder string

const (
	SortOrderNewest SortOrder = "newest"
	SortOrderOldest SortOrder = "oldest"
)

type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// AdvancedFilters narrows a single search invocation. It is never persisted.
type AdvancedFilters struct {
	DateRange               *DateRange `json:"dateRange,omitempty"`
	TimeFrame               TimeFrame  `json:"timeFrame,omitempty"`
	SortOrder               SortOrder  `json:"sortOrder,omitempty"`
	HasEmail                *bool      `json:"hasEmail,omitempty"`
	ShowOnlyWithAttachments bool       `json:"showOnlyWithAttachments,omitempty"`
	Browser                 string     `json:"browser,omitempty"`
	Location                string     `json:"location,omitempty"`
}
