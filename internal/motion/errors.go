package motion

import (
	"errors"
	"fmt"
)

var (
	// ErrMotionTimeout is returned when a move does not complete in time.
	// The arm is stopped and no safe-pose return is attempted.
	ErrMotionTimeout = errors.New("motion timeout")
	// ErrArmFault matches any *ArmFault.
	ErrArmFault = errors.New("arm fault")
	// ErrBusy is returned by Execute when a motion is already in flight.
	ErrBusy = errors.New("motion gate busy")
	// ErrStopped is returned when a motion is cancelled externally.
	ErrStopped = errors.New("motion stopped")
)

// ArmFault wraps an error reported by the arm during one phase of a motion.
type ArmFault struct {
	Phase string
	Err   error
}

func (f *ArmFault) Error() string {
	return fmt.Sprintf("arm fault during %s: %v", f.Phase, f.Err)
}

func (f *ArmFault) Unwrap() error { return f.Err }

// Is makes errors.Is(err, ErrArmFault) true for any ArmFault.
func (f *ArmFault) Is(target error) bool { return target == ErrArmFault }
