package profile

import (
	"fmt"
	"strings"

	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// ParamType tags an action parameter so values can be validated at
// construction time rather than at invoke time.
type ParamType string

const (
	ParamString     ParamType = "string"
	ParamExpression ParamType = "expression"
	ParamGroupPath  ParamType = "group_path"
	ParamDecision   ParamType = "decision"
	ParamState      ParamType = "entity_state"
	ParamStringList ParamType = "string_list"
)

// ParamSpec describes one positional action parameter.
type ParamSpec struct {
	Name        string
	Type        ParamType
	Mandatory   bool
	Description string
}

// ActionType declares an action's name and ordered parameter schema.
type ActionType struct {
	Name   string
	Params []ParamSpec
}

// Factory builds an executable action from validated parameters.
type Factory func(params []string) (Action, error)

type registryEntry struct {
	typ     ActionType
	factory Factory
}

// Registry maps action names to factories. Closed set; unknown names fail
// profile compilation instead of being guessed at.
type Registry struct {
	entries map[string]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds an action type. Duplicate names are a configuration defect.
func (r *Registry) Register(typ ActionType, factory Factory) error {
	if typ.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "action type requires a name")
	}
	if _, exists := r.entries[typ.Name]; exists {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("action %q already registered", typ.Name))
	}
	r.entries[typ.Name] = registryEntry{typ: typ, factory: factory}
	return nil
}

// Types lists the registered action types, for editors and diagnostics.
func (r *Registry) Types() []ActionType {
	out := make([]ActionType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.typ)
	}
	return out
}

// Instantiate validates params against the action's schema and builds the
// action. params[i] must satisfy the declared type tag of parameter i.
func (r *Registry) Instantiate(name string, params []string) (Action, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown action %q", name))
	}
	if len(params) > len(entry.typ.Params) {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("action %q takes at most %d parameters", name, len(entry.typ.Params)))
	}
	for i, spec := range entry.typ.Params {
		var value string
		if i < len(params) {
			value = strings.TrimSpace(params[i])
		}
		if value == "" {
			if spec.Mandatory {
				return nil, dErrors.New(dErrors.CodeInvalidInput,
					fmt.Sprintf("action %q parameter %q is mandatory", name, spec.Name))
			}
			continue
		}
		if err := checkParam(spec, value); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput,
				fmt.Sprintf("action %q parameter %q: %v", name, spec.Name, err))
		}
	}
	return entry.factory(params)
}

func checkParam(spec ParamSpec, value string) error {
	switch spec.Type {
	case ParamGroupPath:
		_, err := domain.ParseGroupPath(value)
		return err
	case ParamDecision:
		if _, ok := ParseDecision(value); !ok {
			return fmt.Errorf("unknown decision %q", value)
		}
	case ParamState:
		if !validEntityState(value) {
			return fmt.Errorf("unknown entity state %q", value)
		}
	}
	return nil
}

// Entity states the registry collaborator understands.
const (
	StateActive        = "active"
	StateDisabled      = "disabled"
	StateAuthnDisabled = "authentication_disabled"
)

func validEntityState(s string) bool {
	switch s {
	case StateActive, StateDisabled, StateAuthnDisabled:
		return true
	}
	return false
}

// DefaultRegistry returns a registry with all built-in actions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range builtins() {
		// Registration of the fixed built-in set cannot collide.
		_ = r.Register(b.typ, b.factory)
	}
	return r
}
