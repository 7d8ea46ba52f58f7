// Package expr evaluates administrator-authored rule expressions against a
// closed set of named variables. Expressions are Lua, sandboxed to the
// base/string/table/math libraries and bounded by a hard deadline.
package expr

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/go-lua"

	dErrors "enroll/pkg/domain-errors"
)

// Vars is the variable context an expression is evaluated against. The set
// of names is a fixed contract per profile kind; referencing a name outside
// the context fails evaluation instead of silently yielding nil.
type Vars map[string]any

const defaultTimeout = 200 * time.Millisecond

// hookInterval is the instruction count between deadline checks.
const hookInterval = 1000

// Evaluator compiles and runs expressions. It is stateless and safe for
// concurrent use; every evaluation gets a fresh Lua state.
type Evaluator struct {
	timeout time.Duration
}

type Option func(*Evaluator)

// WithTimeout bounds a single evaluation. Administrator expressions must not
// be allowed to block the request path indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvalBool evaluates a condition expression. A malformed expression or a
// non-boolean result is an evaluation error, never treated as false.
func (e *Evaluator) EvalBool(ctx context.Context, expression string, vars Vars) (bool, error) {
	l, err := e.run(ctx, expression, vars)
	if err != nil {
		return false, err
	}
	if !l.IsBoolean(-1) {
		return false, dErrors.New(dErrors.CodeEvaluation,
			fmt.Sprintf("condition %q did not produce a boolean", expression))
	}
	return l.ToBoolean(-1), nil
}

// EvalValue evaluates a value-producing expression. Results are mapped to
// string, bool, float64, or []string for table results.
func (e *Evaluator) EvalValue(ctx context.Context, expression string, vars Vars) (any, error) {
	l, err := e.run(ctx, expression, vars)
	if err != nil {
		return nil, err
	}
	v, err := fromLua(l, -1)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEvaluation,
			fmt.Sprintf("expression %q produced an unsupported value", expression))
	}
	return v, nil
}

// EvalStrings evaluates an expression expected to produce one or more
// strings. Scalars are promoted to a single-element slice.
func (e *Evaluator) EvalStrings(ctx context.Context, expression string, vars Vars) ([]string, error) {
	v, err := e.EvalValue(ctx, expression, vars)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case bool:
		return []string{fmt.Sprintf("%t", t)}, nil
	case float64:
		return []string{trimFloat(t)}, nil
	case []string:
		return t, nil
	default:
		return nil, dErrors.New(dErrors.CodeEvaluation,
			fmt.Sprintf("expression %q did not produce string values", expression))
	}
}

func (e *Evaluator) run(ctx context.Context, expression string, vars Vars) (*lua.State, error) {
	if expression == "" {
		return nil, dErrors.New(dErrors.CodeEvaluation, "empty expression")
	}

	l := lua.NewState()
	openSandboxedLibraries(l)
	if err := bindVars(l, vars); err != nil {
		return nil, err
	}
	installStrictGlobals(l)

	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	lua.SetDebugHook(l, func(state *lua.State, _ lua.Debug) {
		if time.Now().After(deadline) {
			lua.Errorf(state, "evaluation deadline exceeded")
		}
	}, lua.MaskCount, hookInterval)

	if err := lua.LoadString(l, "return ("+expression+")"); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEvaluation,
			fmt.Sprintf("failed to compile expression %q", expression))
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEvaluation,
			fmt.Sprintf("failed to evaluate expression %q", expression))
	}
	return l, nil
}

// openSandboxedLibraries loads only side-effect-free libraries. io, os, and
// debug stay out of reach of administrator expressions.
func openSandboxedLibraries(l *lua.State) {
	for _, lib := range []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "math", Function: lua.MathOpen},
	} {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
}

// installStrictGlobals makes a read of an unbound variable raise an error so
// typos in profiles surface as evaluation failures.
func installStrictGlobals(l *lua.State) {
	l.PushGlobalTable()
	l.NewTable()
	l.PushGoFunction(func(state *lua.State) int {
		name, _ := state.ToString(2)
		lua.Errorf(state, "undefined variable %q", name)
		return 0
	})
	l.SetField(-2, "__index")
	l.SetMetaTable(-2)
	l.Pop(1)
}

func bindVars(l *lua.State, vars Vars) error {
	for name, value := range vars {
		if err := pushValue(l, value); err != nil {
			return dErrors.Wrap(err, dErrors.CodeEvaluation,
				fmt.Sprintf("cannot bind variable %q", name))
		}
		l.SetGlobal(name)
	}
	return nil
}

func pushValue(l *lua.State, value any) error {
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case string:
		l.PushString(v)
	case bool:
		l.PushBoolean(v)
	case int:
		l.PushInteger(v)
	case float64:
		l.PushNumber(v)
	case []string:
		l.NewTable()
		for i, s := range v {
			l.PushString(s)
			l.RawSetInt(-2, i+1)
		}
	case []bool:
		l.NewTable()
		for i, b := range v {
			l.PushBoolean(b)
			l.RawSetInt(-2, i+1)
		}
	case map[string]string:
		l.NewTable()
		for k, s := range v {
			l.PushString(s)
			l.SetField(-2, k)
		}
	case map[string][]string:
		l.NewTable()
		for k, ss := range v {
			if err := pushValue(l, ss); err != nil {
				return err
			}
			l.SetField(-2, k)
		}
	default:
		return fmt.Errorf("unsupported variable type %T", value)
	}
	return nil
}

func fromLua(l *lua.State, index int) (any, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s, nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n, nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeTable:
		return tableToStrings(l, index)
	default:
		return nil, fmt.Errorf("unsupported result type")
	}
}

// tableToStrings reads a sequence table as a []string.
func tableToStrings(l *lua.State, index int) ([]string, error) {
	index = l.AbsIndex(index)
	var out []string
	for i := 1; ; i++ {
		l.RawGetInt(index, i)
		if l.IsNil(-1) {
			l.Pop(1)
			break
		}
		switch l.TypeOf(-1) {
		case lua.TypeString, lua.TypeNumber:
			s, _ := l.ToString(-1)
			out = append(out, s)
		default:
			l.Pop(1)
			return nil, fmt.Errorf("table element %d is not a string", i)
		}
		l.Pop(1)
	}
	return out, nil
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
