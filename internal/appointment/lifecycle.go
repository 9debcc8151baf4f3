package appointment

import "github.com/hackgods/clinic-scheduling/internal/apperr"

// Event is a lifecycle operation applied to an appointment.
type Event string

const (
	EventConfirm    Event = "confirm"
	EventReschedule Event = "reschedule"
	EventCancel     Event = "cancel"
	EventComplete   Event = "complete"
	EventNoShow     Event = "no_show"
)

// transitions is the complete table of allowed moves. Anything absent is
// rejected before a write is attempted.
var transitions = map[Event]map[Status]Status{
	EventConfirm: {
		StatusPending: StatusConfirmed,
	},
	EventReschedule: {
		StatusConfirmed: StatusConfirmed,
	},
	EventCancel: {
		StatusPending:   StatusCancelled,
		StatusConfirmed: StatusCancelled,
	},
	EventComplete: {
		StatusConfirmed: StatusCompleted,
	},
	EventNoShow: {
		StatusConfirmed: StatusNoShow,
	},
}

// Next returns the status ev moves from to, or a state error.
func Next(from Status, ev Event) (Status, error) {
	targets, ok := transitions[ev]
	if !ok {
		return "", apperr.State("unknown event %q", ev)
	}
	to, ok := targets[from]
	if !ok {
		return "", apperr.State("cannot %s an appointment that is %s", ev, from)
	}
	return to, nil
}

// Allowed reports whether ev may be applied to an appointment in from.
func Allowed(from Status, ev Event) bool {
	_, err := Next(from, ev)
	return err == nil
}
