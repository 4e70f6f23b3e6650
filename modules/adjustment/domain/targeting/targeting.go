// Package targeting decides which persons a batch preview scans. Filters
// compare against the person's position aspect; target_expr is a CEL boolean
// expression over a string map named person.
package targeting

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

// Candidate is what a matcher sees for one person. Position is the zero value
// when the person has no position record.
type Candidate struct {
	Person      persontypes.Person
	Position    persontypes.PositionData
	HasPosition bool
}

func (c Candidate) fields() map[string]string {
	return map[string]string{
		"person_uuid":   c.Person.PersonUUID,
		"pernr":         c.Person.Pernr,
		"display_name":  c.Person.DisplayName,
		"company":       c.Position.Company,
		"department":    c.Position.Department,
		"employee_type": c.Position.EmployeeType,
		"job_title":     c.Position.JobTitle,
	}
}

type Matcher struct {
	criteria types.Criteria
	program  cel.Program
}

var errExprNotBool = errors.New("expression must evaluate to bool")

var sharedEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("person", cel.MapType(cel.StringType, cel.StringType)))
})

var newProgram = func(env *cel.Env, ast *cel.Ast) (cel.Program, error) {
	return env.Program(ast)
}

// Compile normalizes criteria and compiles target_expr. Compile and type
// errors are validation errors.
func Compile(c types.Criteria) (*Matcher, error) {
	c = c.Normalize()
	m := &Matcher{criteria: c}
	if c.TargetExpr == "" {
		return m, nil
	}
	program, err := compileExpr(c.TargetExpr)
	if err != nil {
		return nil, httperr.Wrap(httperr.KindValidation, "ADJUST_TARGET_EXPR_INVALID", "invalid target_expr: "+err.Error(), err)
	}
	m.program = program
	return m, nil
}

// NeedsPosition reports whether matching reads the position aspect at all.
func (m *Matcher) NeedsPosition() bool {
	c := m.criteria
	return c.TargetCompany != nil || c.TargetDepartment != nil || c.TargetEmployeeType != nil || m.program != nil
}

func (m *Matcher) Criteria() types.Criteria { return m.criteria }

func (m *Matcher) Match(c Candidate) (bool, error) {
	for _, f := range []struct {
		want *string
		got  string
	}{
		{m.criteria.TargetCompany, c.Position.Company},
		{m.criteria.TargetDepartment, c.Position.Department},
		{m.criteria.TargetEmployeeType, c.Position.EmployeeType},
	} {
		if f.want == nil {
			continue
		}
		if !c.HasPosition || strings.TrimSpace(f.got) != *f.want {
			return false, nil
		}
	}
	if m.program == nil {
		return true, nil
	}
	out, _, err := m.program.Eval(map[string]any{"person": c.fields()})
	if err != nil {
		return false, httperr.Wrap(httperr.KindValidation, "ADJUST_TARGET_EXPR_INVALID", "target_expr evaluation failed: "+err.Error(), err)
	}
	v, ok := out.Value().(bool)
	return ok && v, nil
}

// compileExpr builds a fresh program per call. Expressions arrive with each
// request, so programs are not retained.
func compileExpr(expr string) (cel.Program, error) {
	env, err := sharedEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errExprNotBool
	}
	return newProgram(env, ast)
}
