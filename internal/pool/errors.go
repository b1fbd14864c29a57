package pool

import (
	"errors"
	"fmt"
)

// ErrInvalidBinding is returned by Slot.Assign when an item's tensors do not
// match the model's inputs. Pool state is untouched.
var ErrInvalidBinding = errors.New("invalid tensor binding")

// SlotFault is the sticky error recorded when a slot's operation fails. Only
// the first fault is kept until the pool is reset.
type SlotFault struct {
	Slot int
	Err  error
}

func (f *SlotFault) Error() string {
	return fmt.Sprintf("slot %d: %v", f.Slot, f.Err)
}

func (f *SlotFault) Unwrap() error {
	return f.Err
}
