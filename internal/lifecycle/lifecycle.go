// Package lifecycle enforces the inquiry status state machine.
//
// The rules are authorization, not presentation: both the client controllers
// and the backend services consult them before acting.
//
//	open -> in_progress -> resolved -> closed
//	open, in_progress, resolved -> closed
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/service0427/slot-inquiry/internal/model"
)

var (
	// ErrInvalidTransition is returned for moves the state machine never allows.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrForbidden is returned when the move exists but the actor may not make it.
	ErrForbidden = errors.New("actor may not perform this status transition")
	// ErrClosed is returned for any interaction with a closed inquiry.
	ErrClosed = errors.New("inquiry is closed")
	// ErrUnknownStatus is returned for statuses outside the state machine.
	ErrUnknownStatus = errors.New("unknown inquiry status")
)

// rank orders statuses; transitions only ever move forward.
var rank = map[model.Status]int{
	model.StatusOpen:       0,
	model.StatusInProgress: 1,
	model.StatusResolved:   2,
	model.StatusClosed:     3,
}

// CanSend reports nil if messages may be appended while the inquiry is in status.
func CanSend(status model.Status) error {
	switch status {
	case model.StatusOpen, model.StatusInProgress, model.StatusResolved:
		return nil
	case model.StatusClosed:
		return ErrClosed
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
}

// CheckTransition validates that actor may move inq to the target status.
func CheckTransition(inq *model.Inquiry, to model.Status, actor model.Actor) error {
	if inq == nil {
		return fmt.Errorf("%w: no inquiry", ErrInvalidTransition)
	}
	from := inq.Status
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if from == model.StatusClosed {
		return ErrClosed
	}
	if rank[to] <= rank[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch to {
	case model.StatusInProgress, model.StatusResolved:
		if !actor.IsAdmin() {
			return fmt.Errorf("%w: only an admin may move %s -> %s", ErrForbidden, from, to)
		}
	case model.StatusClosed:
		if from == model.StatusResolved {
			if !actor.Owns(inq) {
				return fmt.Errorf("%w: only the requesting user may close a resolved inquiry", ErrForbidden)
			}
			return nil
		}
		if !actor.Owns(inq) && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the requesting user or an admin may close", ErrForbidden)
		}
	}
	return nil
}

// Allowed lists the statuses actor may move inq to, in lifecycle order.
func Allowed(inq *model.Inquiry, actor model.Actor) []model.Status {
	var out []model.Status
	for _, to := range []model.Status{model.StatusInProgress, model.StatusResolved, model.StatusClosed} {
		if CheckTransition(inq, to, actor) == nil {
			out = append(out, to)
		}
	}
	return out
}
