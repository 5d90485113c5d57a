package popup

import "time"

// Status is the state of a linking attempt.
type Status int

const (
	// StatusPending - window open, watchers armed.
	StatusPending Status = iota
	// StatusSucceeded - the popup reported a completed sign-in.
	StatusSucceeded
	// StatusCancelled - the popup was closed without completing, or the caller aborted.
	StatusCancelled
	// StatusTimedOut - nothing happened before the deadline.
	StatusTimedOut
	// StatusPopupBlocked - the window could not be opened; no attempt was armed.
	StatusPopupBlocked
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusPopupBlocked:
		return "POPUP_BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Retryable reports whether the caller should offer another attempt.
func (s Status) Retryable() bool {
	return s.Terminal() && s != StatusSucceeded
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusPending, StatusSucceeded, StatusCancelled, StatusTimedOut, StatusPopupBlocked} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Reasons recorded on a Result.
const (
	ReasonMessage      = "message"
	ReasonWindowClosed = "window_closed"
	ReasonDeadline     = "deadline"
	ReasonAborted      = "aborted"
	ReasonSuperseded   = "superseded"
	ReasonDisposed     = "disposed"
	ReasonPopupBlocked = "popup_blocked"
)

// Attempt is a point-in-time view of a linking attempt.
type Attempt struct {
	ID        string    `json:"id"`
	Status    Status    `json:"-"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// Result is the terminal outcome of an attempt, delivered exactly once.
type Result struct {
	AttemptID string    `json:"attempt_id"`
	Status    Status    `json:"-"`
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Duration is how long the attempt was pending.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
