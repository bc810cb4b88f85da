package appointment

import (
	"fmt"
	"time"
)

// Catalog describes how a working day is cut into bookable slots.
type Catalog struct {
	SlotDuration time.Duration
	LunchStart   TimeOfDay
	LunchEnd     TimeOfDay
	HasLunch     bool
}

// NewCatalog builds a catalog from configuration strings. Empty lunch bounds
// disable the lunch gap.
func NewCatalog(slotDuration time.Duration, lunchStart, lunchEnd string) (Catalog, error) {
	c := Catalog{SlotDuration: slotDuration}
	if slotDuration < time.Minute {
		return Catalog{}, fmt.Errorf("slot duration %s is shorter than a minute", slotDuration)
	}
	if lunchStart == "" || lunchEnd == "" {
		return c, nil
	}

	start, err := ParseTimeSlot(lunchStart)
	if err != nil {
		return Catalog{}, fmt.Errorf("lunch start: %w", err)
	}
	end, err := ParseTimeSlot(lunchEnd)
	if err != nil {
		return Catalog{}, fmt.Errorf("lunch end: %w", err)
	}
	if end <= start {
		return Catalog{}, fmt.Errorf("lunch end %s is not after lunch start %s", end.Clock(), start.Clock())
	}

	c.LunchStart, c.LunchEnd, c.HasLunch = start, end, true
	return c, nil
}

// Slots enumerates the slot start times of one working day, ascending.
func (c Catalog) Slots(p AvailabilityProfile) []TimeOfDay {
	var out []TimeOfDay
	for t := p.Start; t.Add(c.SlotDuration) <= p.End; t = t.Add(c.SlotDuration) {
		end := t.Add(c.SlotDuration)
		if c.HasLunch && t < c.LunchEnd && end > c.LunchStart {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ComputeAvailability marks every catalog slot of date as free or taken.
// A date outside the doctor's working days yields an empty sequence.
func ComputeAvailability(p AvailabilityProfile, date time.Time, c Catalog, existing []Appointment) []Slot {
	if !p.WorksOn(date.Weekday()) {
		return []Slot{}
	}

	taken := make(map[TimeOfDay]bool)
	for _, a := range existing {
		if a.DoctorID == p.DoctorID && sameDay(a.Date, date) && a.Status.OccupiesSlot() {
			taken[a.Slot] = true
		}
	}

	times := c.Slots(p)
	slots := make([]Slot, 0, len(times))
	for _, t := range times {
		slots = append(slots, Slot{
			TimeSlot:  t.Label(),
			Minutes:   t,
			Available: !taken[t],
		})
	}
	return slots
}

func findSlot(slots []Slot, t TimeOfDay) (Slot, bool) {
	for _, s := range slots {
		if s.Minutes == t {
			return s, true
		}
	}
	return Slot{}, false
}
