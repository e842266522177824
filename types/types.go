package types

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of a workflow definition.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusDraft
	StatusPendingApproval
	StatusActive
	StatusSuspended
)

var statusNames = map[Status]string{
	StatusDraft:           "Draft",
	StatusPendingApproval: "Pending Approval",
	StatusActive:          "Active",
	StatusSuspended:       "Suspended",
}

// Statuses lists every valid status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusDraft, StatusPendingApproval, StatusActive, StatusSuspended}
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// IsValid reports whether s is one of the four lifecycle statuses.
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// Editable reports whether definitions in this status may be edited or deleted.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusSuspended
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid workflow status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus accepts the display name ("Pending Approval") or the compact
// form ("PendingApproval").
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if name == n {
			return s, nil
		}
	}
	if name == "PendingApproval" {
		return StatusPendingApproval, nil
	}
	return StatusUnknown, fmt.Errorf("unknown workflow status %q", name)
}

// Stage is one step of a workflow's stage plan. Stages are descriptive only.
type Stage struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name" validate:"required"`
	AssignedToRole string `json:"assignedToRole" validate:"required"`
	SLADays        int    `json:"slaDays" validate:"gte=0"`
}

// ApprovalRecord is produced once per approver per approval cycle.
type ApprovalRecord struct {
	StaffID    string    `json:"staffId"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// WorkflowDefinition is the aggregate governed by the lifecycle controller.
type WorkflowDefinition struct {
	ID                string           `json:"id"`
	Name              string           `json:"name" validate:"required"`
	Description       string           `json:"description"`
	Stages            []Stage          `json:"stages" validate:"dive"`
	RequiredApprovers []string         `json:"requiredApprovers" validate:"unique,dive,required"`
	Approvals         []ApprovalRecord `json:"approvals"`
	Status            Status           `json:"status"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy. nil slices stay nil and empty slices stay empty.
func (w WorkflowDefinition) Clone() WorkflowDefinition {
	out := w
	out.Stages = cloneSlice(w.Stages)
	out.RequiredApprovers = cloneSlice(w.RequiredApprovers)
	out.Approvals = cloneSlice(w.Approvals)
	return out
}

// IsRequiredApprover reports whether staffID belongs to the approver set.
func (w WorkflowDefinition) IsRequiredApprover(staffID string) bool {
	for _, id := range w.RequiredApprovers {
		if id == staffID {
			return true
		}
	}
	return false
}

// HasApproved reports whether staffID already approved in the current cycle.
func (w WorkflowDefinition) HasApproved(staffID string) bool {
	for _, a := range w.Approvals {
		if a.StaffID == staffID {
			return true
		}
	}
	return false
}

// PendingApprovers returns the required approvers that have not approved yet,
// in required order.
func (w WorkflowDefinition) PendingApprovers() []string {
	pending := make([]string, 0, len(w.RequiredApprovers))
	for _, id := range w.RequiredApprovers {
		if !w.HasApproved(id) {
			pending = append(pending, id)
		}
	}
	return pending
}

// Degenerate reports a definition that can never be activated through approval.
func (w WorkflowDefinition) Degenerate() bool {
	return len(w.RequiredApprovers) == 0
}

// WorkflowPatch is a partial update. Nil fields are left untouched.
type WorkflowPatch struct {
	Name              *string   `json:"name,omitempty" validate:"omitnil,min=1"`
	Description       *string   `json:"description,omitempty"`
	Stages            *[]Stage  `json:"stages,omitempty"`
	RequiredApprovers *[]string `json:"requiredApprovers,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p WorkflowPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Stages == nil && p.RequiredApprovers == nil
}

// Snapshot is the persisted form of a whole store.
type Snapshot struct {
	Version   int                  `json:"version"`
	Sequence  uint64               `json:"sequence"`
	Workflows []WorkflowDefinition `json:"workflows"`
}

// StaffMember is an entry of the read-only staff directory.
type StaffMember struct {
	StaffID string `json:"staffId"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Team    string `json:"team,omitempty"`
	Email   string `json:"email,omitempty"`
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
