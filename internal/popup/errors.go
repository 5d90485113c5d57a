package popup

import (
	"errors"
	"fmt"
)

// ErrPopupBlocked indicates that the host refused to open the popup window.
// Users have to allow popups for the host and try again.
var ErrPopupBlocked = errors.New("popup blocked")

// ErrAttemptPending is returned by StartLinking under PolicyReject while an
// attempt is still pending.
var ErrAttemptPending = errors.New("linking attempt already pending")

// ErrDisposed is returned once the coordinator has been disposed.
var ErrDisposed = errors.New("coordinator disposed")

// LaunchError carries the launcher failure behind ErrPopupBlocked.
type LaunchError struct {
	URL   string
	Cause error
}

func (e *LaunchError) Error() string {
	if e == nil {
		return ErrPopupBlocked.Error()
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", ErrPopupBlocked, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", ErrPopupBlocked, e.URL, e.Cause)
}

// Is makes errors.Is(err, ErrPopupBlocked) hold for every LaunchError.
func (e *LaunchError) Is(target error) bool {
	return target == ErrPopupBlocked
}

func (e *LaunchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
