package morph

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Curve reshapes the derived-mode interpolation position. A nil Curve is
// linear.
type Curve struct {
	source  string
	program *vm.Program
}

func curveEnv(t float64) map[string]any {
	return map[string]any{
		"t":    t,
		"pi":   math.Pi,
		"exp":  math.Exp,
		"pow":  math.Pow,
		"sqrt": math.Sqrt,
		"sin":  math.Sin,
		"cos":  math.Cos,
	}
}

// ParseCurve compiles an expression over t such as "t*t" or
// "1/(1+exp(-12*(t-0.5)))". Empty or "linear" returns nil.
func ParseCurve(source string) (*Curve, error) {
	if source == "" || source == "linear" {
		return nil, nil
	}

	program, err := expr.Compile(source, expr.Env(curveEnv(0)), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compile curve %q: %w", source, err)
	}
	return &Curve{source: source, program: program}, nil
}

// String returns the source expression
func (c *Curve) String() string {
	if c == nil {
		return "linear"
	}
	return c.source
}

// At evaluates the curve at t, clamped to [0, 1]
func (c *Curve) At(t float64) (float64, error) {
	if c == nil {
		return t, nil
	}

	out, err := expr.Run(c.program, curveEnv(t))
	if err != nil {
		return 0, fmt.Errorf("evaluate curve %q at %v: %w", c.source, t, err)
	}
	v, ok := out.(float64)
	if !ok || math.IsNaN(v) {
		return 0, fmt.Errorf("curve %q returned %v", c.source, out)
	}
	return math.Min(1, math.Max(0, v)), nil
}
