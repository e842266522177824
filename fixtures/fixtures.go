// Package fixtures holds the seed roster and workflow definitions the
// dashboard ships with.
package fixtures

import (
	"time"

	"github.com/songzhibin97/workflow-approval/types"
)

// Staff returns the regulator staff roster.
func Staff() []types.StaffMember {
	return []types.StaffMember{
		{StaffID: "reg_001", Name: "Alice Wonderland", Role: "Head of Licensing", Team: "Licensing Department", Email: "awonderland@regulator.demo"},
		{StaffID: "reg_002", Name: "Bobby Mack", Role: "Senior Licensing Officer", Team: "Alpha Review Team", Email: "bbuilder@regulator.demo"},
		{StaffID: "reg_003", Name: "Carol Danvers", Role: "Licensing Officer", Team: "Alpha Review Team", Email: "cdanvers@regulator.demo"},
		{StaffID: "reg_004", Name: "David Copperfield", Role: "Senior Compliance Analyst", Team: "Compliance & Oversight", Email: "dcopperfield@regulator.demo"},
		{StaffID: "reg_005", Name: "Eve Moneypenny", Role: "Supervisory Lead", Team: "Banking Supervision Dept.", Email: "emoneypenny@regulator.demo"},
		{StaffID: "reg_006", Name: "Frank Castle", Role: "Enforcement Officer", Team: "Enforcement Division", Email: "fcastlet@regulator.demo"},
		{StaffID: "reg_007", Name: "Grace Hopper", Role: "Licensing Officer", Team: "Beta Review Team", Email: "ghopper@regulator.demo"},
		{StaffID: "reg_008", Name: "Henry Jekyll", Role: "Risk Assessment Specialist", Team: "Risk Management Unit", Email: "hjekyll@regulator.demo"},
	}
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// Workflows returns the initial workflow definitions, one per status.
func Workflows() []types.WorkflowDefinition {
	return []types.WorkflowDefinition{
		{
			ID:          "wf_001",
			Name:        "New PI License Application Review",
			Description: "Standard workflow for processing new Payment Institution license applications.",
			Status:      types.StatusActive,
			Stages: []types.Stage{
				{ID: "stg_1_1", Name: "Initial Submission Review", AssignedToRole: "Licensing Officer", SLADays: 5},
				{ID: "stg_1_2", Name: "Detailed Assessment", AssignedToRole: "Senior Licensing Officer", SLADays: 10},
				{ID: "stg_1_3", Name: "Decision Making", AssignedToRole: "Head of Licensing", SLADays: 3},
			},
			RequiredApprovers: []string{"reg_001", "reg_005"},
			Approvals: []types.ApprovalRecord{
				{StaffID: "reg_001", ApprovedAt: ts("2025-01-10T10:00:00Z")},
				{StaffID: "reg_005", ApprovedAt: ts("2025-01-11T11:00:00Z")},
			},
			CreatedAt: ts("2025-01-08T12:00:00Z"),
			UpdatedAt: ts("2025-01-11T11:00:00Z"),
		},
		{
			ID:                "wf_002",
			Name:              "Crypto Asset Provider Onboarding",
			Description:       "Specialized workflow for CASP applications.",
			Status:            types.StatusDraft,
			Stages:            []types.Stage{},
			RequiredApprovers: []string{"reg_001", "reg_004"},
			Approvals:         []types.ApprovalRecord{},
			CreatedAt:         ts("2025-03-15T09:00:00Z"),
			UpdatedAt:         ts("2025-03-15T09:00:00Z"),
		},
		{
			ID:          "wf_003",
			Name:        "License Renewal Process",
			Description: "Standard workflow for handling license renewals.",
			Status:      types.StatusPendingApproval,
			Stages: []types.Stage{
				{ID: "stg_3_1", Name: "Renewal Application Submitted", AssignedToRole: "Licensing Officer", SLADays: 2},
				{ID: "stg_3_2", Name: "Compliance Check", AssignedToRole: "Compliance Analyst", SLADays: 7},
				{ID: "stg_3_3", Name: "Renewal Decision", AssignedToRole: "Head of Licensing", SLADays: 3},
			},
			RequiredApprovers: []string{"reg_003", "reg_007"},
			Approvals: []types.ApprovalRecord{
				{StaffID: "reg_003", ApprovedAt: ts("2025-04-20T14:30:00Z")},
			},
			CreatedAt: ts("2025-04-18T16:00:00Z"),
			UpdatedAt: ts("2025-04-20T14:30:00Z"),
		},
		{
			ID:          "wf_004",
			Name:        "Emergency Sanction Review",
			Description: "Accelerated workflow for reviewing entities against new sanction lists.",
			Status:      types.StatusSuspended,
			Stages: []types.Stage{
				{ID: "stg_4_1", Name: "Initial Screening", AssignedToRole: "Compliance Analyst", SLADays: 1},
				{ID: "stg_4_2", Name: "Supervisory Review", AssignedToRole: "Supervisory Lead", SLADays: 2},
				{ID: "stg_4_3", Name: "Enforcement Action", AssignedToRole: "Enforcement Officer", SLADays: 1},
			},
			RequiredApprovers: []string{"reg_006", "reg_008"},
			Approvals: []types.ApprovalRecord{
				{StaffID: "reg_006", ApprovedAt: ts("2025-02-01T09:00:00Z")},
				{StaffID: "reg_008", ApprovedAt: ts("2025-02-01T15:00:00Z")},
			},
			CreatedAt: ts("2025-02-01T08:00:00Z"),
			UpdatedAt: ts("2025-05-20T10:00:00Z"),
		},
	}
}
