package workflow

import (
	"fmt"
	"time"

	"github.com/songzhibin97/workflow-approval/types"
)

// ApprovalGate records approvals and decides when the quorum is reached.
type ApprovalGate struct {
	Policy QuorumPolicy
}

// NewApprovalGate returns a gate using policy, or N-of-N when policy is nil.
func NewApprovalGate(policy QuorumPolicy) ApprovalGate {
	if policy == nil {
		policy = AllOf{}
	}
	return ApprovalGate{Policy: policy}
}

// Approve records staffID's approval on wf. The returned definition has the
// new record appended and, when the quorum is reached, status Active.
// activated reports that transition. wf itself is never modified.
func (g ApprovalGate) Approve(wf types.WorkflowDefinition, staffID string, now time.Time) (out types.WorkflowDefinition, activated bool, err error) {
	if _, err := NextStatus(wf.Status, EventRecordApproval); err != nil {
		return wf, false, withID(err, wf.ID)
	}
	if !wf.IsRequiredApprover(staffID) {
		return wf, false, fmt.Errorf("%w: %s is not required for %s", ErrNotEligibleApprover, staffID, wf.ID)
	}
	if wf.HasApproved(staffID) {
		return wf, false, fmt.Errorf("%w: %s already approved %s", ErrDuplicateApproval, staffID, wf.ID)
	}

	policy := g.Policy
	if policy == nil {
		policy = AllOf{}
	}

	out = wf.Clone()
	out.Approvals = append(out.Approvals, types.ApprovalRecord{StaffID: staffID, ApprovedAt: now})
	out.UpdatedAt = now

	reached, err := policy.Reached(len(out.Approvals), len(out.RequiredApprovers))
	if err != nil {
		return wf, false, err
	}
	if reached {
		out.Status = types.StatusActive
	}
	return out, reached, nil
}
