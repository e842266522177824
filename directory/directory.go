// Package directory provides the read-only staff lookup used to validate and
// display approver identities.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/songzhibin97/workflow-approval/types"
)

// ErrStaffNotFound is returned when a staff id is not in the directory.
var ErrStaffNotFound = errors.New("staff member not found")

// Directory resolves staff ids. Implementations must be safe for concurrent use.
type Directory interface {
	Lookup(ctx context.Context, staffID string) (types.StaffMember, error)
	List(ctx context.Context) ([]types.StaffMember, error)
}

// Static is an immutable in-memory Directory.
type Static struct {
	members map[string]types.StaffMember
}

// NewStatic builds a Static directory. Duplicate or empty ids are rejected.
func NewStatic(members []types.StaffMember) (*Static, error) {
	m := make(map[string]types.StaffMember, len(members))
	for _, member := range members {
		if member.StaffID == "" {
			return nil, errors.New("staff id cannot be empty")
		}
		if _, dup := m[member.StaffID]; dup {
			return nil, fmt.Errorf("duplicate staff id %s", member.StaffID)
		}
		m[member.StaffID] = member
	}
	return &Static{members: m}, nil
}

// Lookup returns the member for staffID.
func (s *Static) Lookup(ctx context.Context, staffID string) (types.StaffMember, error) {
	if err := ctx.Err(); err != nil {
		return types.StaffMember{}, err
	}
	member, ok := s.members[staffID]
	if !ok {
		return types.StaffMember{}, fmt.Errorf("%w: %s", ErrStaffNotFound, staffID)
	}
	return member, nil
}

// List returns every member ordered by staff id.
func (s *Static) List(ctx context.Context) ([]types.StaffMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.StaffMember, 0, len(s.members))
	for _, member := range s.members {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StaffID < out[j].StaffID })
	return out, nil
}

// Unknown returns the ids from staffIDs that the directory cannot resolve.
func Unknown(ctx context.Context, dir Directory, staffIDs []string) ([]string, error) {
	var unknown []string
	for _, id := range staffIDs {
		if _, err := dir.Lookup(ctx, id); err != nil {
			if !errors.Is(err, ErrStaffNotFound) {
				return nil, err
			}
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}
