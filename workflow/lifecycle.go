package workflow

import (
	"fmt"
	"time"

	"github.com/songzhibin97/workflow-approval/types"
)

// Event is a lifecycle event applied to a workflow definition.
type Event uint8

const (
	EventRequestApproval Event = iota + 1
	EventRecordApproval
	EventSuspend
	EventReactivate
	EventEdit
	EventDelete
)

var eventNames = map[Event]string{
	EventRequestApproval: "RequestApproval",
	EventRecordApproval:  "RecordApproval",
	EventSuspend:         "Suspend",
	EventReactivate:      "Reactivate",
	EventEdit:            "Edit",
	EventDelete:          "Delete",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}

// Events lists every lifecycle event.
func Events() []Event {
	return []Event{EventRequestApproval, EventRecordApproval, EventSuspend, EventReactivate, EventEdit, EventDelete}
}

// NextStatus returns the status a workflow in from moves to on ev, or a
// *TransitionError when the pair is not in the transition table.
//
// RecordApproval always yields PendingApproval here; whether the approval
// completes the quorum is decided by the ApprovalGate. Delete yields the
// current status since the definition is removed rather than transitioned.
func NextStatus(from types.Status, ev Event) (types.Status, error) {
	if ev == EventEdit || ev == EventDelete {
		if from.Editable() {
			return from, nil
		}
		return from, illegal(from, ev)
	}
	switch from {
	case types.StatusDraft:
		if ev == EventRequestApproval {
			return types.StatusPendingApproval, nil
		}
	case types.StatusPendingApproval:
		if ev == EventRecordApproval {
			return types.StatusPendingApproval, nil
		}
	case types.StatusActive:
		if ev == EventSuspend {
			return types.StatusSuspended, nil
		}
	case types.StatusSuspended:
		if ev == EventReactivate {
			return types.StatusActive, nil
		}
	}
	return from, illegal(from, ev)
}

// Can reports whether ev is legal from status.
func Can(from types.Status, ev Event) bool {
	_, err := NextStatus(from, ev)
	return err == nil
}

// PermittedEvents returns the events legal from status, in Events() order.
func PermittedEvents(from types.Status) []Event {
	var out []Event
	for _, ev := range Events() {
		if Can(from, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Controller applies lifecycle events to workflow definitions. It never
// mutates its input; every method returns a new value.
type Controller struct{}

// RequestApproval opens a fresh approval cycle: Draft -> PendingApproval with
// approvals cleared.
func (Controller) RequestApproval(wf types.WorkflowDefinition, now time.Time) (types.WorkflowDefinition, error) {
	next, err := NextStatus(wf.Status, EventRequestApproval)
	if err != nil {
		return wf, withID(err, wf.ID)
	}
	out := wf.Clone()
	out.Status = next
	out.Approvals = []types.ApprovalRecord{}
	out.UpdatedAt = now
	return out, nil
}

// Suspend moves Active -> Suspended.
func (c Controller) Suspend(wf types.WorkflowDefinition, now time.Time) (types.WorkflowDefinition, error) {
	return c.simple(wf, EventSuspend, now)
}

// Reactivate moves Suspended -> Active without re-checking the quorum; an
// approver-set edit while suspended already forced the definition to Draft.
func (c Controller) Reactivate(wf types.WorkflowDefinition, now time.Time) (types.WorkflowDefinition, error) {
	return c.simple(wf, EventReactivate, now)
}

func (Controller) simple(wf types.WorkflowDefinition, ev Event, now time.Time) (types.WorkflowDefinition, error) {
	next, err := NextStatus(wf.Status, ev)
	if err != nil {
		return wf, withID(err, wf.ID)
	}
	out := wf.Clone()
	out.Status = next
	out.UpdatedAt = now
	return out, nil
}

// Edit applies patch to a Draft or Suspended definition. When a Suspended
// definition's approver set changes, its approvals are cleared and it returns
// to Draft so the next activation needs a new approval cycle.
func (Controller) Edit(wf types.WorkflowDefinition, patch types.WorkflowPatch, now time.Time) (types.WorkflowDefinition, error) {
	if _, err := NextStatus(wf.Status, EventEdit); err != nil {
		return wf, withID(err, wf.ID)
	}
	out := wf.Clone()
	if patch.Name != nil {
		out.Name = *patch.Name
	}
	if patch.Description != nil {
		out.Description = *patch.Description
	}
	if patch.Stages != nil {
		out.Stages = append([]types.Stage{}, (*patch.Stages)...)
	}
	if patch.RequiredApprovers != nil {
		out.RequiredApprovers = append([]string{}, (*patch.RequiredApprovers)...)
		if wf.Status == types.StatusSuspended && !sameSet(wf.RequiredApprovers, out.RequiredApprovers) {
			out.Status = types.StatusDraft
			out.Approvals = []types.ApprovalRecord{}
		}
	}
	out.UpdatedAt = now
	return out, nil
}

// CheckDelete returns nil when wf may be removed.
func (Controller) CheckDelete(wf types.WorkflowDefinition) error {
	_, err := NextStatus(wf.Status, EventDelete)
	return withID(err, wf.ID)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}
