package escalator

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultCriterion accepts a clean exit.
const DefaultCriterion = "exit_code == 0"

// Criterion decides whether a completed command succeeded. It is a boolean
// expr-lang expression over exit_code (int) and output (string), e.g.
// "exit_code == -1" for a reboot that drops the SSH channel.
type Criterion struct {
	source  string
	program *vm.Program
}

func criterionEnv(exitCode int, output string) map[string]any {
	return map[string]any{
		"exit_code": exitCode,
		"output":    output,
	}
}

// CompileCriterion compiles src. An empty src yields DefaultCriterion.
func CompileCriterion(src string) (*Criterion, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		src = DefaultCriterion
	}
	program, err := expr.Compile(src, expr.Env(criterionEnv(0, "")), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid success criterion %q: %w", src, err)
	}
	return &Criterion{source: src, program: program}, nil
}

// Accept evaluates the criterion. Evaluation errors count as failure.
func (c *Criterion) Accept(exitCode int, output string) bool {
	out, err := expr.Run(c.program, criterionEnv(exitCode, output))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (c *Criterion) String() string {
	return c.source
}
