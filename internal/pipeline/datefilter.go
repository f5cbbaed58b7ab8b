package pipeline

import (
	"time"

	"github.com/alitho/shipview/internal/shipment"
)

// DateWindow is an inclusive timestamp range built from calendar dates in
// the display zone. A zero bound is open.
type DateWindow struct {
	Start *time.Time
	End   *time.Time
}

// NewDateWindow turns "YYYY-MM-DD" bounds into start-of-day and
// end-of-day instants in loc.
func NewDateWindow(startDate, endDate string, loc *time.Location) (DateWindow, error) {
	var w DateWindow
	if startDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, startDate, loc)
		if err != nil {
			return w, shipment.Errorf(shipment.KindValidationError, "startDate %q: %v", startDate, err)
		}
		w.Start = &d
	}
	if endDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, endDate, loc)
		if err != nil {
			return w, shipment.Errorf(shipment.KindValidationError, "endDate %q: %v", endDate, err)
		}
		end := d.AddDate(0, 0, 1).Add(-time.Nanosecond)
		w.End = &end
	}
	return w, nil
}

// Bounded reports whether either side is set.
func (w DateWindow) Bounded() bool {
	return w.Start != nil || w.End != nil
}

// Admits reports whether t falls inside the window. Records without a
// timestamp are only admitted by an unbounded window.
func (w DateWindow) Admits(t *time.Time) bool {
	if !w.Bounded() {
		return true
	}
	if t == nil {
		return false
	}
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}
