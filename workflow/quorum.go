package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/songzhibin97/workflow-approval/rules"
)

// QuorumPolicy decides whether approved distinct approvals out of required
// approvers activate a workflow. approved is never greater than required.
type QuorumPolicy interface {
	Reached(approved, required int) (bool, error)
	String() string
}

// AllOf is the N-of-N policy: every required approver must approve.
type AllOf struct{}

func (AllOf) Reached(approved, required int) (bool, error) {
	return required > 0 && approved == required, nil
}

func (AllOf) String() string { return "all" }

// AtLeast is the M-of-N policy. M is capped at N.
type AtLeast struct {
	M int
}

func (p AtLeast) Reached(approved, required int) (bool, error) {
	if required == 0 {
		return false, nil
	}
	need := p.M
	if need > required {
		need = required
	}
	if need < 1 {
		need = 1
	}
	return approved >= need, nil
}

func (p AtLeast) String() string { return fmt.Sprintf("at_least:%d", p.M) }

// ExprQuorum evaluates a boolean expression over the variables approved and
// required, e.g. "approved * 2 > required".
type ExprQuorum struct {
	Expression string
	Evaluator  rules.Evaluator
}

// NewExprQuorum compiles expression up front so a bad policy fails at startup.
func NewExprQuorum(expression string) (*ExprQuorum, error) {
	evaluator := rules.NewExprEvaluator()
	if err := evaluator.Validate(expression, quorumEnv(0, 0)); err != nil {
		return nil, fmt.Errorf("invalid quorum expression %q: %w", expression, err)
	}
	return &ExprQuorum{Expression: expression, Evaluator: evaluator}, nil
}

func (p *ExprQuorum) Reached(approved, required int) (bool, error) {
	if required == 0 {
		return false, nil
	}
	ok, err := p.Evaluator.Evaluate(p.Expression, quorumEnv(approved, required))
	if err != nil {
		return false, fmt.Errorf("quorum expression %q: %w", p.Expression, err)
	}
	return ok, nil
}

func (p *ExprQuorum) String() string { return "expr:" + p.Expression }

func quorumEnv(approved, required int) map[string]interface{} {
	return map[string]interface{}{"approved": approved, "required": required}
}

// ParseQuorumPolicy parses "all", "at_least:M" or "expr:<expression>".
// An empty policy means "all".
func ParseQuorumPolicy(raw string) (QuorumPolicy, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "" || raw == "all":
		return AllOf{}, nil
	case strings.HasPrefix(raw, "at_least:"):
		m, err := strconv.Atoi(strings.TrimPrefix(raw, "at_least:"))
		if err != nil || m < 1 {
			return nil, fmt.Errorf("invalid quorum policy %q: M must be a positive integer", raw)
		}
		return AtLeast{M: m}, nil
	case strings.HasPrefix(raw, "expr:"):
		return NewExprQuorum(strings.TrimPrefix(raw, "expr:"))
	default:
		return nil, fmt.Errorf("unknown quorum policy %q", raw)
	}
}
