package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/songzhibin97/workflow-approval/directory"
	"github.com/songzhibin97/workflow-approval/types"
)

var validatorUtil = validator.New()

// ValidateDefinition checks the structural rules of a definition: a non-empty
// name, complete stages with non-negative SLAs, and no duplicate approvers.
func ValidateDefinition(wf types.WorkflowDefinition) error {
	if strings.TrimSpace(wf.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if err := validatorUtil.Struct(wf); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

// ValidatePatch checks the fields of a patch that can be checked on their own.
func ValidatePatch(patch types.WorkflowPatch) error {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidDefinition)
	}
	if err := validatorUtil.Struct(patch); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return nil
}

// checkApprovers fails with ErrUnknownApprover when dir cannot resolve one of
// the required approvers. A nil directory accepts everyone.
func checkApprovers(ctx context.Context, dir directory.Directory, approvers []string) error {
	if dir == nil || len(approvers) == 0 {
		return nil
	}
	unknown, err := directory.Unknown(ctx, dir, approvers)
	if err != nil {
		return fmt.Errorf("staff directory lookup: %w", err)
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownApprover, strings.Join(unknown, ", "))
	}
	return nil
}

// assignStageIDs gives every stage without an id a fresh one.
func assignStageIDs(stages []types.Stage) {
	for i := range stages {
		if stages[i].ID == "" {
			stages[i].ID = "stg_" + uuid.NewString()
		}
	}
}
