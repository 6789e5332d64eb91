package models

import (
	"fmt"
	"time"
)

// AccessReason explains an access decision.
type AccessReason string

// Access reasons.
const (
	AccessReasonOpen       AccessReason = "open"
	AccessReasonNotStarted AccessReason = "not_started"
	AccessReasonEnded      AccessReason = "ended"
	AccessReasonInWindow   AccessReason = "in_window"
)

const accessDateLayout = "2006-01-02"

// AccessDecision reports whether course content may currently be served.
type AccessDecision struct {
	Accessible bool         `json:"accessible"`
	Reason     AccessReason `json:"reason"`
	Message    string       `json:"message"`
	StartDate  *time.Time   `json:"start_date,omitempty"`
	EndDate    *time.Time   `json:"end_date,omitempty"`
}

// OpenAccess is the decision for enrollments without a batch.
func OpenAccess() AccessDecision {
	return AccessDecision{
		Accessible: true,
		Reason:     AccessReasonOpen,
		Message:    "Course access is open with no batch schedule",
	}
}

// DecideBatchAccess evaluates the batch window at now. Both window ends are inclusive.
func DecideBatchAccess(batch Batch, now time.Time) AccessDecision {
	start, end := batch.StartDate, batch.EndDate
	decision := AccessDecision{StartDate: &start, EndDate: &end}
	switch {
	case now.Before(start):
		decision.Reason = AccessReasonNotStarted
		decision.Message = fmt.Sprintf("Course access will be available from %s (batch runs %s to %s)",
			start.Format(accessDateLayout), start.Format(accessDateLayout), end.Format(accessDateLayout))
	case now.After(end):
		decision.Reason = AccessReasonEnded
		decision.Message = fmt.Sprintf("Course access ended on %s (batch ran %s to %s)",
			end.Format(accessDateLayout), start.Format(accessDateLayout), end.Format(accessDateLayout))
	default:
		decision.Accessible = true
		decision.Reason = AccessReasonInWindow
		decision.Message = fmt.Sprintf("Course access is available until %s (batch runs %s to %s)",
			end.Format(accessDateLayout), start.Format(accessDateLayout), end.Format(accessDateLayout))
	}
	return decision
}
