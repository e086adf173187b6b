package monitor

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned from Dashboard before the first completed
// evaluation cycle.
var ErrNotReady = errors.New("dashboard is not computed yet")

type UnregisteredUnitError struct {
	UnitID string
}

func (e *UnregisteredUnitError) Error() string {
	return fmt.Sprintf("unit %q is not registered", e.UnitID)
}
