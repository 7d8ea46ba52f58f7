package profile

import (
	"context"
	"fmt"
	"strings"

	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// Action is one executable rule body. Invoke returns an updated result
// rather than mutating the accumulator in place.
type Action interface {
	Name() string
	Invoke(ctx context.Context, ev *Evaluation, res Result) (Result, error)
}

type builtin struct {
	typ     ActionType
	factory Factory
}

func builtins() []builtin {
	return []builtin{
		{
			typ: ActionType{Name: "mapIdentity", Params: []ParamSpec{
				{Name: "identityType", Type: ParamString, Mandatory: true, Description: "type of the produced identity"},
				{Name: "expression", Type: ParamExpression, Mandatory: true, Description: "expression producing the identity value"},
				{Name: "source", Type: ParamString, Description: "originating IdP or profile name"},
			}},
			factory: func(params []string) (Action, error) {
				return &mapIdentityAction{
					identityType: param(params, 0),
					expression:   param(params, 1),
					source:       param(params, 2),
				}, nil
			},
		},
		{
			typ: ActionType{Name: "mapAttribute", Params: []ParamSpec{
				{Name: "attribute", Type: ParamString, Mandatory: true, Description: "name of the produced attribute"},
				{Name: "group", Type: ParamGroupPath, Mandatory: true, Description: "target group path"},
				{Name: "expression", Type: ParamExpression, Mandatory: true, Description: "expression producing the values"},
				{Name: "source", Type: ParamString, Description: "originating IdP or profile name"},
			}},
			factory: func(params []string) (Action, error) {
				group, err := domain.ParseGroupPath(param(params, 1))
				if err != nil {
					return nil, err
				}
				return &mapAttributeAction{
					attribute:  param(params, 0),
					group:      group,
					expression: param(params, 2),
					source:     param(params, 3),
				}, nil
			},
		},
		{
			typ: ActionType{Name: "mapGroup", Params: []ParamSpec{
				{Name: "expression", Type: ParamExpression, Mandatory: true, Description: "expression producing group path(s)"},
				{Name: "source", Type: ParamString, Description: "originating IdP or profile name"},
			}},
			factory: func(params []string) (Action, error) {
				return &mapGroupAction{expression: param(params, 0), source: param(params, 1)}, nil
			},
		},
		{
			typ: ActionType{Name: "setCredentialRequirement", Params: []ParamSpec{
				{Name: "credential", Type: ParamString, Mandatory: true, Description: "required credential definition"},
			}},
			factory: func(params []string) (Action, error) {
				return &setCredentialRequirementAction{credential: param(params, 0)}, nil
			},
		},
		{
			typ: ActionType{Name: "setEntityState", Params: []ParamSpec{
				{Name: "state", Type: ParamState, Mandatory: true, Description: "initial state of the created entity"},
			}},
			factory: func(params []string) (Action, error) {
				return &setEntityStateAction{state: param(params, 0)}, nil
			},
		},
		{
			typ: ActionType{Name: "autoProcess", Params: []ParamSpec{
				{Name: "decision", Type: ParamDecision, Mandatory: true, Description: "accept, reject, or drop"},
			}},
			factory: func(params []string) (Action, error) {
				decision, ok := ParseDecision(param(params, 0))
				if !ok {
					return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown auto-process decision")
				}
				return &autoProcessAction{decision: decision}, nil
			},
		},
		{
			typ: ActionType{Name: "autoProcessInvitations", Params: []ParamSpec{
				{Name: "form", Type: ParamString, Description: "restrict matching invitations to this form"},
			}},
			factory: func(params []string) (Action, error) {
				return &autoProcessInvitationsAction{form: domain.FormName(param(params, 0))}, nil
			},
		},
		{
			typ: ActionType{Name: "setAttributeClass", Params: []ParamSpec{
				{Name: "group", Type: ParamGroupPath, Mandatory: true, Description: "group to assign classes in"},
				{Name: "classes", Type: ParamStringList, Mandatory: true, Description: "comma-separated attribute classes"},
			}},
			factory: func(params []string) (Action, error) {
				group, err := domain.ParseGroupPath(param(params, 0))
				if err != nil {
					return nil, err
				}
				var classes []string
				for _, c := range strings.Split(param(params, 1), ",") {
					if c = strings.TrimSpace(c); c != "" {
						classes = append(classes, c)
					}
				}
				if len(classes) == 0 {
					return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one attribute class is required")
				}
				return &setAttributeClassAction{group: group, classes: classes}, nil
			},
		},
		{
			typ: ActionType{Name: "includeProfile", Params: []ParamSpec{
				{Name: "profile", Type: ParamString, Mandatory: true, Description: "name of the embedded profile"},
			}},
			factory: func(params []string) (Action, error) {
				return &includeProfileAction{profile: domain.ProfileName(param(params, 0))}, nil
			},
		},
	}
}

func param(params []string, i int) string {
	if i < len(params) {
		return strings.TrimSpace(params[i])
	}
	return ""
}

type mapIdentityAction struct {
	identityType string
	expression   string
	source       string
}

func (a *mapIdentityAction) Name() string { return "mapIdentity" }

func (a *mapIdentityAction) Invoke(ctx context.Context, ev *Evaluation, res Result) (Result, error) {
	value, err := ev.String(ctx, a.expression)
	if err != nil {
		return res, err
	}
	return res.withIdentity(MappedIdentity{Type: a.identityType, Value: value, Source: a.source}), nil
}

type mapAttributeAction struct {
	attribute  string
	group      domain.GroupPath
	expression string
	source     string
}

func (a *mapAttributeAction) Name() string { return "mapAttribute" }

func (a *mapAttributeAction) Invoke(ctx context.Context, ev *Evaluation, res Result) (Result, error) {
	values, err := ev.Strings(ctx, a.expression)
	if err != nil {
		return res, err
	}
	return res.withAttribute(MappedAttribute{
		Name:   a.attribute,
		Values: values,
		Group:  a.group,
		Source: a.source,
	}), nil
}

type mapGroupAction struct {
	expression string
	source     string
}

func (a *mapGroupAction) Name() string { return "mapGroup" }

func (a *mapGroupAction) Invoke(ctx context.Context, ev *Evaluation, res Result) (Result, error) {
	values, err := ev.Strings(ctx, a.expression)
	if err != nil {
		return res, err
	}
	for _, raw := range values {
		path, err := domain.ParseGroupPath(raw)
		if err != nil {
			return res, dErrors.Wrap(err, dErrors.CodeEvaluation,
				fmt.Sprintf("mapGroup produced invalid path %q", raw))
		}
		res = res.withGroup(MappedGroup{Path: path, Source: a.source})
	}
	return res, nil
}

type setCredentialRequirementAction struct {
	credential string
}

func (a *setCredentialRequirementAction) Name() string { return "setCredentialRequirement" }

func (a *setCredentialRequirementAction) Invoke(_ context.Context, _ *Evaluation, res Result) (Result, error) {
	res.CredentialRequirement = a.credential
	return res, nil
}

type setEntityStateAction struct {
	state string
}

func (a *setEntityStateAction) Name() string { return "setEntityState" }

func (a *setEntityStateAction) Invoke(_ context.Context, _ *Evaluation, res Result) (Result, error) {
	res.EntityState = a.state
	return res, nil
}

type autoProcessAction struct {
	decision Decision
}

func (a *autoProcessAction) Name() string { return "autoProcess" }

func (a *autoProcessAction) Invoke(_ context.Context, _ *Evaluation, res Result) (Result, error) {
	res.AutoProcess = a.decision
	return res, nil
}

type autoProcessInvitationsAction struct {
	form domain.FormName
}

func (a *autoProcessInvitationsAction) Name() string { return "autoProcessInvitations" }

func (a *autoProcessInvitationsAction) Invoke(_ context.Context, _ *Evaluation, res Result) (Result, error) {
	res.Invitations = &InvitationDirective{Form: a.form}
	return res, nil
}

type setAttributeClassAction struct {
	group   domain.GroupPath
	classes []string
}

func (a *setAttributeClassAction) Name() string { return "setAttributeClass" }

func (a *setAttributeClassAction) Invoke(_ context.Context, _ *Evaluation, res Result) (Result, error) {
	return res.withAttributeClasses(a.group, a.classes), nil
}

type includeProfileAction struct {
	profile domain.ProfileName
}

func (a *includeProfileAction) Name() string { return "includeProfile" }

// Invoke evaluates the named sub-profile and splices its result into the
// parent accumulator. Re-entering a profile already on the evaluation stack
// is an evaluation error, not a silent no-op.
func (a *includeProfileAction) Invoke(ctx context.Context, ev *Evaluation, res Result) (Result, error) {
	if ev.visiting[a.profile] {
		return res, dErrors.New(dErrors.CodeEvaluation,
			fmt.Sprintf("cyclic profile embedding: %q is already being evaluated", a.profile))
	}
	if ev.profiles == nil {
		return res, dErrors.New(dErrors.CodeEvaluation, "no profile resolver configured")
	}
	sub, err := ev.profiles.Lookup(ctx, a.profile)
	if err != nil {
		return res, dErrors.Wrap(err, dErrors.CodeEvaluation,
			fmt.Sprintf("embedded profile %q cannot be resolved", a.profile))
	}

	ev.visiting[a.profile] = true
	defer delete(ev.visiting, a.profile)

	subResult, err := sub.run(ctx, ev)
	if err != nil {
		return res, err
	}
	return res.merge(subResult), nil
}
