package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	lockable = map[Status]bool{
		StatusWaitingToBeShipped: true,
		StatusPartiallyShipped:   true,
	}
	cancelable = map[Status]bool{
		StatusOnHold:             true,
		StatusWaitingToBeShipped: true,
		StatusInProgress:         true,
		StatusWaitingForRx:       true,
		StatusPartiallyShipped:   true,
		StatusShipped:            true,
		StatusProblem:            true,
	}
)

func (o *Order) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s order in status %s", ErrInvalidTransition, action, o.Status)
}

// IsTerminal reports whether no further transitions are possible.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusCanceled || o.Status == StatusFulfilled
}

func (o *Order) IsLocked() bool {
	return o.LockedByID != nil
}

func (o *Order) CanBeLocked() bool   { return lockable[o.Status] }
func (o *Order) CanBeHeld() bool     { return o.Status == StatusWaitingToBeShipped }
func (o *Order) CanBeUnheld() bool   { return o.Status == StatusOnHold }
func (o *Order) CanBeCanceled() bool { return cancelable[o.Status] }
func (o *Order) CanBeShipped() bool  { return o.Status == StatusInProgress }
func (o *Order) CanBeFulfilled() bool {
	return o.Status == StatusShipped
}

// Lock assigns the order to user and moves it to in_progress.
func (o *Order) Lock(user string, now time.Time) error {
	if o.LockedByID != nil {
		if *o.LockedByID == user {
			return ErrAlreadyLockedByUser
		}
		return fmt.Errorf("%w: %s", ErrLockedByAnotherUser, *o.LockedByID)
	}
	if !o.CanBeLocked() {
		return o.invalid("lock")
	}
	at := now.UTC()
	o.LockedByID = &user
	o.LockedAt = &at
	o.Status = StatusInProgress
	return nil
}

// Unlock releases the lock. Unlocked orders are left alone.
func (o *Order) Unlock() {
	if o.LockedByID == nil {
		return
	}
	o.clearLock()
	o.Status = StatusWaitingToBeShipped
}

func (o *Order) clearLock() {
	o.LockedByID = nil
	o.LockedAt = nil
}

// CheckLock releases a lock held longer than LockTimeout. It reports whether
// the lock was reclaimed.
func (o *Order) CheckLock(now time.Time) bool {
	if o.LockedByID == nil || o.LockedAt == nil {
		return false
	}
	if now.Sub(*o.LockedAt) <= LockTimeout {
		return false
	}
	o.Unlock()
	return true
}

func (o *Order) Hold(reason, user string, now time.Time) error {
	if !o.CanBeHeld() {
		return o.invalid("hold")
	}
	at := now.UTC()
	o.Status = StatusOnHold
	o.HoldReason = reason
	o.HeldBy = user
	o.HeldAt = &at
	return nil
}

func (o *Order) Unhold() error {
	if !o.CanBeUnheld() {
		return o.invalid("unhold")
	}
	o.Status = StatusWaitingToBeShipped
	o.HoldReason = ""
	o.HeldBy = ""
	o.HeldAt = nil
	return nil
}

func (o *Order) Cancel(reason, user string, now time.Time) error {
	if !o.CanBeCanceled() {
		return o.invalid("cancel")
	}
	at := now.UTC()
	o.clearLock()
	o.Status = StatusCanceled
	o.CancelReason = reason
	o.CanceledBy = user
	o.CanceledAt = &at
	return nil
}

// AddProblem records a problem and forces the order into problem status,
// dropping any lock.
func (o *Order) AddProblem(category, description, user string, now time.Time) (*Problem, error) {
	if o.IsTerminal() {
		return nil, o.invalid("report a problem on")
	}
	if category == "" {
		return nil, fmt.Errorf("category is required")
	}
	p := &Problem{
		ID:          uuid.New(),
		OrderID:     o.ID,
		Category:    category,
		Description: description,
		ReportedBy:  user,
		ReportedAt:  now.UTC(),
	}
	o.Problems = append(o.Problems, p)
	o.clearLock()
	o.Status = StatusProblem
	return p, nil
}

func (o *Order) OpenProblems() []*Problem {
	var open []*Problem
	for _, p := range o.Problems {
		if !p.Resolved {
			open = append(open, p)
		}
	}
	return open
}

// CheckProblemStatus returns a problem order to waiting_to_be_shipped once no
// unresolved problems remain.
func (o *Order) CheckProblemStatus() {
	if o.Status != StatusProblem {
		return
	}
	if len(o.OpenProblems()) == 0 {
		o.Status = StatusWaitingToBeShipped
	}
}

// ResolveProblem resolves the oldest open problem.
func (o *Order) ResolveProblem(resolution, user string, now time.Time) (*Problem, error) {
	if o.Status != StatusProblem {
		return nil, o.invalid("resolve a problem on")
	}
	var oldest *Problem
	for _, p := range o.OpenProblems() {
		if oldest == nil || p.ReportedAt.Before(oldest.ReportedAt) {
			oldest = p
		}
	}
	if oldest == nil {
		return nil, ErrNoOpenProblems
	}
	at := now.UTC()
	oldest.Resolved = true
	oldest.Resolution = resolution
	oldest.ResolvedBy = user
	oldest.ResolvedAt = &at
	o.CheckProblemStatus()
	return oldest, nil
}

// CheckIfShipped marks an in-progress order shipped and releases its lock.
func (o *Order) CheckIfShipped(now time.Time) error {
	if !o.CanBeShipped() {
		return o.invalid("ship")
	}
	at := now.UTC()
	o.clearLock()
	o.Status = StatusShipped
	o.ShippedAt = &at
	return nil
}

func (o *Order) Fulfill(now time.Time) error {
	if !o.CanBeFulfilled() {
		return o.invalid("fulfill")
	}
	at := now.UTC()
	o.Status = StatusFulfilled
	o.FulfilledAt = &at
	return nil
}

// AwaitRx parks an order until a prescription arrives.
func (o *Order) AwaitRx() error {
	if o.Status != StatusWaitingToBeShipped {
		return o.invalid("await rx for")
	}
	o.Status = StatusWaitingForRx
	return nil
}

func (o *Order) ReceiveRx() error {
	if o.Status != StatusWaitingForRx {
		return o.invalid("receive rx for")
	}
	o.Status = StatusWaitingToBeShipped
	return nil
}
