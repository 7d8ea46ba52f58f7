// Package profile implements the translation rule engine: ordered
// condition/action rules evaluated against a submitted request, producing
// the normalized set of identities, attributes, and groups to commit.
package profile

import (
	"context"
	"errors"
	"fmt"

	"enroll/internal/expr"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// RuleDefinition is the stored form of one rule.
type RuleDefinition struct {
	Condition string
	Action    string
	Params    []string
}

// Definition is the stored form of a translation profile.
type Definition struct {
	Name  domain.ProfileName
	Kind  Kind
	Rules []RuleDefinition
}

// Rule pairs a compiled condition with an executable action.
type Rule struct {
	Condition  string
	ActionName string
	Action     Action
}

// Profile is a compiled translation profile. Stateless and reusable across
// requests once constructed.
type Profile struct {
	Name  domain.ProfileName
	Kind  Kind
	Rules []Rule
}

// Resolver looks up compiled profiles for embedding.
type Resolver interface {
	Lookup(ctx context.Context, name domain.ProfileName) (*Profile, error)
}

// Compile validates every rule's action parameters and builds the profile.
// Validation happens here, not at invoke time.
func Compile(def Definition, registry *Registry) (*Profile, error) {
	if def.Name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "profile requires a name")
	}
	p := &Profile{Name: def.Name, Kind: def.Kind}
	for i, rd := range def.Rules {
		if rd.Condition == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("profile %q rule %d has no condition", def.Name, i))
		}
		action, err := registry.Instantiate(rd.Action, rd.Params)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput,
				fmt.Sprintf("profile %q rule %d: %v", def.Name, i, err))
		}
		p.Rules = append(p.Rules, Rule{Condition: rd.Condition, ActionName: rd.Action, Action: action})
	}
	return p, nil
}

// RuleError identifies the failing rule when evaluation aborts.
type RuleError struct {
	Profile domain.ProfileName
	Rule    int
	Err     error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("profile %q rule %d: %v", e.Profile, e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// AsRuleError extracts the structured rule failure, if any.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Evaluation carries per-evaluation state through actions: the input, its
// variable context, the evaluator, and the set of profiles currently on the
// embedding stack.
type Evaluation struct {
	Input    Input
	Vars     expr.Vars
	eval     *expr.Evaluator
	profiles Resolver
	visiting map[domain.ProfileName]bool
}

// String evaluates a value expression expected to yield a single string.
func (ev *Evaluation) String(ctx context.Context, expression string) (string, error) {
	values, err := ev.Strings(ctx, expression)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", dErrors.New(dErrors.CodeEvaluation,
			fmt.Sprintf("expression %q produced %d values, want 1", expression, len(values)))
	}
	return values[0], nil
}

// Strings evaluates a value expression yielding one or more strings.
func (ev *Evaluation) Strings(ctx context.Context, expression string) ([]string, error) {
	return ev.eval.EvalStrings(ctx, expression, ev.Vars)
}

// Evaluate runs the profile's rules in declaration order against the input.
// All-or-nothing: a condition or action failure aborts the evaluation and
// discards partial results. Scalar decision fields follow last-rule-wins;
// evaluation never short-circuits after an auto-process decision.
func (p *Profile) Evaluate(ctx context.Context, eval *expr.Evaluator, profiles Resolver, in Input) (Result, error) {
	ev := &Evaluation{
		Input:    in,
		Vars:     in.Vars(),
		eval:     eval,
		profiles: profiles,
		visiting: map[domain.ProfileName]bool{p.Name: true},
	}
	return p.run(ctx, ev)
}

func (p *Profile) run(ctx context.Context, ev *Evaluation) (Result, error) {
	var res Result
	for i, rule := range p.Rules {
		matched, err := ev.eval.EvalBool(ctx, rule.Condition, ev.Vars)
		if err != nil {
			return Result{}, dErrors.Wrap(
				&RuleError{Profile: p.Name, Rule: i, Err: err},
				dErrors.CodeEvaluation,
				fmt.Sprintf("profile %q rule %d condition failed", p.Name, i),
			)
		}
		if !matched {
			continue
		}
		res, err = rule.Action.Invoke(ctx, ev, res)
		if err != nil {
			return Result{}, dErrors.Wrap(
				&RuleError{Profile: p.Name, Rule: i, Err: err},
				dErrors.CodeEvaluation,
				fmt.Sprintf("profile %q rule %d action %q failed", p.Name, i, rule.ActionName),
			)
		}
	}
	return res, nil
}
