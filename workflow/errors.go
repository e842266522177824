package workflow

import (
	"errors"
	"fmt"

	"github.com/songzhibin97/workflow-approval/types"
)

// Standard error definitions
var (
	ErrNotFound            = errors.New("workflow not found")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrInvalidState        = errors.New("invalid state")
	ErrEditNotAllowed      = errors.New("edit not allowed")
	ErrDeleteNotAllowed    = errors.New("delete not allowed")
	ErrNotEligibleApprover = errors.New("not an eligible approver")
	ErrDuplicateApproval   = errors.New("duplicate approval")
	ErrPersistence         = errors.New("persistence failure")
	ErrInvalidDefinition   = errors.New("invalid workflow definition")
	ErrUnknownApprover     = errors.New("unknown approver")
	ErrIDConflict          = errors.New("workflow id already allocated")
)

// Error kinds as reported by KindOf.
const (
	KindNotFound            = "NotFound"
	KindIllegalTransition   = "IllegalTransition"
	KindInvalidState        = "InvalidState"
	KindEditNotAllowed      = "EditNotAllowed"
	KindDeleteNotAllowed    = "DeleteNotAllowed"
	KindNotEligibleApprover = "NotEligibleApprover"
	KindDuplicateApproval   = "DuplicateApproval"
	KindPersistenceFailure  = "PersistenceFailure"
	KindInvalidDefinition   = "InvalidDefinition"
	KindInternal            = "Internal"
)

// TransitionError reports an event rejected by a guard. It matches
// ErrIllegalTransition and the specific reason (ErrInvalidState,
// ErrEditNotAllowed or ErrDeleteNotAllowed) with errors.Is.
type TransitionError struct {
	WorkflowID string
	From       types.Status
	Event      Event
	reason     error
}

func (e *TransitionError) Error() string {
	if e.WorkflowID == "" {
		return fmt.Sprintf("%v: %s not allowed from %s", e.reason, e.Event, e.From)
	}
	return fmt.Sprintf("%v: %s not allowed for %s in %s", e.reason, e.Event, e.WorkflowID, e.From)
}

func (e *TransitionError) Unwrap() []error {
	return []error{ErrIllegalTransition, e.reason}
}

func illegal(from types.Status, ev Event) *TransitionError {
	reason := ErrInvalidState
	switch ev {
	case EventEdit:
		reason = ErrEditNotAllowed
	case EventDelete:
		reason = ErrDeleteNotAllowed
	}
	return &TransitionError{From: from, Event: ev, reason: reason}
}

func withID(err error, id string) error {
	var te *TransitionError
	if errors.As(err, &te) && te.WorkflowID == "" {
		cp := *te
		cp.WorkflowID = id
		return &cp
	}
	return err
}

// KindOf maps an error returned by this package to a stable kind name so
// callers can render an actionable message. The most specific kind wins.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEditNotAllowed):
		return KindEditNotAllowed
	case errors.Is(err, ErrDeleteNotAllowed):
		return KindDeleteNotAllowed
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrIllegalTransition):
		return KindIllegalTransition
	case errors.Is(err, ErrNotEligibleApprover):
		return KindNotEligibleApprover
	case errors.Is(err, ErrDuplicateApproval):
		return KindDuplicateApproval
	case errors.Is(err, ErrPersistence):
		return KindPersistenceFailure
	case errors.Is(err, ErrInvalidDefinition), errors.Is(err, ErrUnknownApprover):
		return KindInvalidDefinition
	default:
		return KindInternal
	}
}
