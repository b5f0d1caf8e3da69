// Package cycle resolves a task's repeat rule and a point in time into the
// stable period identifier assignments are keyed by.
//
// Keys are computed in UTC and depend only on their inputs:
//
//	once    -> "once"
//	daily   -> "2025-03-14"
//	weekly  -> "week-2025-03-10" (the Monday starting the ISO week)
//	monthly -> "2025-03"
package cycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/scry-quests/internal/domain"
)

// OnceKey is the key shared by every call for a non-repeating task.
const OnceKey = "once"

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
	weekPrefix  = "week-"
)

// ErrUnknownRepeatRule is returned for a repeat rule the resolver does not know.
var ErrUnknownRepeatRule = errors.New("unknown repeat rule")

// Key maps a repeat rule and timestamp to a cycle key.
func Key(rule domain.RepeatRule, now time.Time) (string, error) {
	utc := now.UTC()

	switch rule {
	case domain.RepeatOnce:
		return OnceKey, nil
	case domain.RepeatDaily:
		return utc.Format(dayLayout), nil
	case domain.RepeatWeekly:
		return weekPrefix + WeekStart(utc).Format(dayLayout), nil
	case domain.RepeatMonthly:
		return utc.Format(monthLayout), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRepeatRule, rule)
	}
}

// WeekStart returns midnight UTC of the Monday beginning t's ISO week.
func WeekStart(t time.Time) time.Time {
	utc := t.UTC()
	// Weekday counts from Sunday; shift so Monday is 0.
	offset := (int(utc.Weekday()) + 6) % 7
	day := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
