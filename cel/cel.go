// Package cel evaluates Common Expression Language expressions that order two map shaped
// index keys, bound to the variables mapX and mapY.
package cel

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Evaluator holds a compiled ordering expression.
type Evaluator struct {
	Name       string
	Expression string
	program    cel.Program
}

// NewEvaluator compiles expression, which must yield an int: negative when mapX orders
// before mapY, zero when equal, positive otherwise.
func NewEvaluator(name string, expression string) (*Evaluator, error) {
	if name == "" {
		return nil, fmt.Errorf("name can't be empty string")
	}
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		cel.Variable("mapX", cel.MapType(cel.StringType, cel.AnyType)),
		cel.Variable("mapY", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression %s: %w", name, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.IntType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression %s yields %s, want int", name, ast.OutputType())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL program %s: %w", name, err)
	}
	return &Evaluator{
		Name:       name,
		Expression: expression,
		program:    p,
	}, nil
}

// Evaluate runs the expression against two keys.
func (e *Evaluator) Evaluate(mapX map[string]any, mapY map[string]any) (int, error) {
	out, _, err := e.program.Eval(map[string]any{
		"mapX": mapX,
		"mapY": mapY,
	})
	if err != nil {
		return 0, fmt.Errorf("error evaluating CEL expression %s: %w", e.Name, err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(int(0)))
	if err != nil {
		return 0, fmt.Errorf("error converting CEL result %v to int: %w", out, err)
	}
	v, ok := nv.(int)
	if !ok {
		return 0, fmt.Errorf("CEL result %v is not an int", nv)
	}
	return v, nil
}
